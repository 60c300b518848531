package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/betbot/binance-vault/internal/vault"
)

// accountView is the printable shape of a stored record. Credentials never
// leave the vault, only their presence is shown.
type accountView struct {
	Name          string    `json:"name"`
	Mode          string    `json:"mode"`
	Testnet       bool      `json:"testnet"`
	Description   string    `json:"description,omitempty"`
	HasPassphrase bool      `json:"has_passphrase"`
	CredentialsOK bool      `json:"credentials_ok"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (a *app) viewOf(v vault.PublicView) accountView {
	mode := "standard"
	if v.PortfolioMargin {
		mode = "unified"
	}
	return accountView{
		Name:          v.Name,
		Mode:          mode,
		Testnet:       v.Testnet,
		Description:   v.Description,
		HasPassphrase: v.HasPassphrase,
		CredentialsOK: a.registry.Validate(v.Name),
		CreatedAt:     v.CreatedAt,
		UpdatedAt:     v.UpdatedAt,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) cmdAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	name := fs.String("name", "", "account name")
	apiKey := fs.String("api-key", os.Getenv("BINANCE_API_KEY"), "API key")
	apiSecret := fs.String("api-secret", os.Getenv("BINANCE_API_SECRET"), "API secret")
	passphrase := fs.String("passphrase", "", "optional passphrase")
	testnet := fs.Bool("testnet", false, "account lives on the testnet")
	unified := fs.Bool("unified", false, "account runs in portfolio-margin mode")
	description := fs.String("description", "", "free-form note")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("add: -name is required")
	}
	if *apiKey == "" || *apiSecret == "" {
		return fmt.Errorf("add: -api-key and -api-secret are required")
	}
	err := a.registry.Add(vault.NewAccount{
		Name:            *name,
		APIKey:          *apiKey,
		APISecret:       *apiSecret,
		Passphrase:      *passphrase,
		Testnet:         *testnet,
		PortfolioMargin: *unified,
		Description:     *description,
	})
	if err != nil {
		return err
	}
	fmt.Printf("stored account %q\n", *name)
	return nil
}

func (a *app) cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(args)

	accounts := a.registry.List()
	if *asJSON {
		views := make([]accountView, 0, len(accounts))
		for _, acct := range accounts {
			views = append(views, a.viewOf(acct))
		}
		return printJSON(views)
	}
	if len(accounts) == 0 {
		fmt.Println("no accounts stored")
		return nil
	}
	for _, acct := range accounts {
		v := a.viewOf(acct)
		marker := " "
		if acct.Name == a.cfg.DefaultAccount {
			marker = "*"
		}
		net := "live"
		if v.Testnet {
			net = "testnet"
		}
		fmt.Printf("%s %-20s %-8s %-8s %s\n", marker, v.Name, v.Mode, net, v.Description)
	}
	return nil
}

func (a *app) cmdShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	name := fs.String("name", a.cfg.DefaultAccount, "account name")
	fs.Parse(args)

	view, err := a.registry.View(*name)
	if err != nil {
		return err
	}
	return printJSON(a.viewOf(view))
}

func (a *app) cmdUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	name := fs.String("name", "", "account name")
	apiKey := fs.String("api-key", "", "new API key")
	apiSecret := fs.String("api-secret", "", "new API secret")
	passphrase := fs.String("passphrase", "", "new passphrase")
	testnet := fs.Bool("testnet", false, "move to/from the testnet")
	unified := fs.Bool("unified", false, "switch portfolio-margin mode")
	description := fs.String("description", "", "new note")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("update: -name is required")
	}

	// only flags the caller actually set become part of the update
	var upd vault.Update
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api-key":
			upd.APIKey = apiKey
		case "api-secret":
			upd.APISecret = apiSecret
		case "passphrase":
			upd.Passphrase = passphrase
		case "testnet":
			upd.Testnet = testnet
		case "unified":
			upd.PortfolioMargin = unified
		case "description":
			upd.Description = description
		}
	})
	if err := a.registry.Update(*name, upd); err != nil {
		return err
	}
	// a stale handle would keep trading with the old credentials
	a.dispatcher.Invalidate(*name)
	fmt.Printf("updated account %q\n", *name)
	return nil
}

func (a *app) cmdRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	name := fs.String("name", "", "account name")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("remove: -name is required")
	}
	if err := a.registry.Remove(*name); err != nil {
		return err
	}
	a.dispatcher.Invalidate(*name)
	fmt.Printf("removed account %q\n", *name)
	return nil
}

func (a *app) cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	name := fs.String("name", a.cfg.DefaultAccount, "account name")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("validate: -name is required")
	}
	if !a.registry.Validate(*name) {
		return fmt.Errorf("account %q: credentials missing or not decryptable", *name)
	}
	fmt.Printf("account %q: credentials ok\n", *name)
	return nil
}

func (a *app) cmdSelfTest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	name := fs.String("name", a.cfg.DefaultAccount, "account name")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("test: -name is required")
	}
	res, err := a.dispatcher.SelfTest(ctx, *name)
	if err != nil {
		return err
	}

	if res.PublicErr != nil {
		fmt.Printf("public  FAIL  %v\n", res.PublicErr)
	} else {
		fmt.Printf("public  ok    server time %s, drift %s, latency %s\n",
			res.ServerTime.Format(time.RFC3339), res.ClockDrift, res.Latency)
	}
	if res.PrivateErr != nil {
		fmt.Printf("private FAIL  %v\n", res.PrivateErr)
	} else {
		fmt.Println("private ok")
	}
	for _, m := range res.CodeMismatches {
		fmt.Printf("partner code drift: %s\n", m)
	}
	if !res.OK() {
		return fmt.Errorf("self test failed for %q", *name)
	}
	return nil
}
