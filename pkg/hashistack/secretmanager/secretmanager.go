package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a Vault client configured from the VAULT_* environment.
// Config loading pulls database, redis, session and cron secrets through it.
var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// Enabled reports whether the environment points at a Vault server.
func Enabled() bool {
	return os.Getenv("VAULT_ADDR") != ""
}

func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		zap.L().Error("[Vault] failed to create client", zap.Error(err))
		return nil, err
	}

	zap.L().Info("[Vault] client configured", zap.String("addr", os.Getenv("VAULT_ADDR")))
	return client, nil
}
