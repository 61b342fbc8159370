// Package users implements accounts, guest sessions and consent records.
//
// Store doubles as the middleware.UserLoader for bearer authentication.
// Guests are ordinary user rows with role guest and a "guest_" prefixed id;
// their consent is keyed by that id instead of the user id.
package users
