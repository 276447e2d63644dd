/*
Package authsdk is the Go client for the sessionauth service, and the home of
the request/response types the server itself encodes.

# SDKClient vs Session

SDKClient covers the unauthenticated surface: health checks, registration,
login and refresh. A successful login or registration yields a Session, which
carries the token pair and refreshes the access token when it is about to
expire:

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := client.AuthenticateWithPassword(ctx, "alice@example.com", "secret123")
	if err != nil {
		var apiErr *authsdk.APIError
		if errors.As(err, &apiErr) && apiErr.Code == authsdk.ErrorCodeInvalidCredentials {
			// wrong email or password
		}
		return err
	}

	profile, err := session.Profile(ctx)

	// Invalidates the server-side session. The session must not be reused.
	err = session.Logout(ctx)

# Errors

Every non-2xx response becomes an *APIError whose Code is one of the
ErrorCode constants. The same type is used by the server to write errors, so
codes cannot drift between the two sides.
*/
package authsdk
