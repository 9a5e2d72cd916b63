package secretmanager

import (
	"os"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// Enabled reports whether the process environment points at a vault server.
func Enabled() bool {
	return os.Getenv("VAULT_ADDR") != ""
}

// ProvideVault builds a client from the standard VAULT_* variables. Settlement
// secrets live in one KV v2 path per environment, so the client is read-only
// in practice and gets short timeouts plus a couple of retries.
func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
		vault.WithRequestTimeout(5*time.Second),
		vault.WithRetryConfiguration(vault.RetryConfiguration{
			RetryWaitMin: 250 * time.Millisecond,
			RetryWaitMax: 2 * time.Second,
			RetryMax:     2,
		}),
	)
	if err != nil {
		return nil, err
	}

	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		if err := client.SetNamespace(ns); err != nil {
			return nil, err
		}
	}

	zap.L().Info("vault client configured", zap.String("addr", os.Getenv("VAULT_ADDR")))
	return client, nil
}
