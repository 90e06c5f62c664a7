package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"taskshare/internal/config"
	"taskshare/internal/logx"
	"taskshare/internal/model"
	"taskshare/internal/store"
)

// OpenStore builds the backend named by cfg.Store.Driver. The postgres
// backend is migrated before it is returned.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	case config.DriverFile:
		fs, err := store.NewFileStore(cfg.Store.DataDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.DriverPostgres:
		pg, err := store.OpenPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// SeedUsers creates every configured user whose email is not yet known.
// Existing users are left as they are.
func SeedUsers(ctx context.Context, users store.UserStore, seeds []config.SeedUser, logger *log.Logger) error {
	for _, s := range seeds {
		email := model.NormalizeEmail(s.Email)
		if _, found, err := users.GetUserByEmail(ctx, email); err != nil {
			return fmt.Errorf("seed %s: %w", email, err)
		} else if found {
			continue
		}

		u := model.User{Email: email, DisplayName: strings.TrimSpace(s.DisplayName)}
		if strings.TrimSpace(s.ID) != "" {
			id, ok := model.ParseUserID(s.ID)
			if !ok {
				return fmt.Errorf("seed %s: id %q is not a uuid", email, s.ID)
			}
			u.ID = id
		}
		created, err := users.CreateUser(ctx, u)
		if errors.Is(err, store.ErrEmailTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed %s: %w", email, err)
		}
		logx.Info(logger, "user_seeded", logx.Fields{"user_id": created.ID, "email": created.Email})
	}
	return nil
}
