package rediskey

import "fmt"

const (
	CapabilityRevokedPrefix = "capability:revoked"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCapabilityRevokedKey returns "capability:revoked:{jti}"
func BuildCapabilityRevokedKey(jti string) string {
	return NamespaceKey(CapabilityRevokedPrefix, jti)
}
