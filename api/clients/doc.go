/*
Package clients provides a Go client for the wallet vault control API.

	client := clients.NewVaultClient("http://127.0.0.1:8080")
	if err := client.Unlock(ctx, password, ""); err != nil {
		if errors.Is(err, interfaces.ErrInvalidCredentials) {
			// wrong password or MFA code
		}
	}

Errors returned by the server are decoded into *APIError. APIError unwraps
to the matching interfaces sentinel, so callers can use errors.Is exactly as
they would against the engine in process.
*/
package clients
