package vault

import "fmt"

// DuplicateAccountError is returned by Add when a record with the same name
// already exists. Existing credentials are never overwritten implicitly.
type DuplicateAccountError struct {
	Name string
}

func (e *DuplicateAccountError) Error() string {
	return fmt.Sprintf("account %q already exists, use update to change it", e.Name)
}

// AccountNotFoundError is returned when a lookup names an unknown account.
// Known names are included so the caller can surface them to the operator.
type AccountNotFoundError struct {
	Name  string
	Known []string
}

func (e *AccountNotFoundError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("account %q not found, no accounts configured", e.Name)
	}
	return fmt.Sprintf("account %q not found, known accounts: %v", e.Name, e.Known)
}

// MissingCredentialError is returned when an account record exists but one of
// its credential fields is empty.
type MissingCredentialError struct {
	Name  string
	Field string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("account %q has no %s configured", e.Name, e.Field)
}
