/*
Package gatekeepsdk provides a client SDK for the gatekeep access service.

# Overview

gatekeep decides what a caller may do: which role they hold, which
capabilities the role grants and how many arrangements they have left today.
The SDK wraps its HTTP API. The server uses the same request and response
types, so both sides agree on the wire format.

A Client without a token acts as a guest:

	client := gatekeepsdk.NewClient("https://gatekeep.example.com")
	guest, err := client.GuestSession(ctx)

Tokens are issued by the identity provider, not by gatekeep. Attach one with
WithToken:

	user := client.WithToken(accessToken)
	usage, err := user.GetUsage(ctx)
	res, err := user.RecordArrangement(ctx, before, after)

# Errors

Failed calls return an *APIError. Compare with errors.Is against the
predefined values:

	if errors.Is(err, gatekeepsdk.ErrQuotaExceeded) {
		// offer an upgrade
	}
*/
package gatekeepsdk
