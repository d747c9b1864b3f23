package interfaces

// SecretSharer splits a secret into threshold shares and reconstructs it.
//
// Split returns exactly parts shares; any threshold of them passed to Combine
// reproduce the secret. Fewer than threshold shares either fail or yield
// unrelated bytes, which is why callers authenticate the combined result.
type SecretSharer interface {
	Split(secret []byte, parts, threshold int) ([][]byte, error)
	Combine(shares [][]byte) ([]byte, error)
}
