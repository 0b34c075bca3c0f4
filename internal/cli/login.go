package cli

import (
	"context"
	"log"
	"os"

	"github.com/mlevkov/tasksync/internal/auth"
	"github.com/mlevkov/tasksync/internal/common"
)

// Login prompts for an access token (issued by the identity service),
// verifies it and stores it in local metadata, then starts the engine.
func (a *App) Login(ctx context.Context) error {
	token, err := GetSecret("Enter access token", os.Stdout)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	accountID, err := auth.ParseAccountID(string(token), []byte(a.config.SecretKey))
	if err != nil {
		log.Printf("Login unsuccessful: %s", err.Error())
		return err
	}

	if err := a.store.Meta(nil).Set(ctx, common.MetaKeyAccessToken, token); err != nil {
		log.Printf("error storing session: %v", err)
		return err
	}

	log.Printf("Logged in as account %s", accountID)

	a.stopEngine(ctx)
	if err := a.startEngine(ctx); err != nil {
		log.Printf("engine did not start: %v", err)
	}
	return nil
}

// Logout stops the engine and wipes the session metadata, watermark
// included: the next login may be a different account and must bootstrap
// from a zero watermark. Task data stays on disk.
func (a *App) Logout(ctx context.Context) error {
	a.stopEngine(ctx)

	if err := a.store.Meta(nil).Clear(ctx); err != nil {
		log.Printf("error clearing session: %v", err)
		return err
	}
	log.Printf("Logged out")
	return nil
}
