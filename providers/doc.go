// Package providers defines how the authorization server looks up resource
// owners.
//
// The UserInfo type carries the profile data that ends up in ID Tokens and
// introspection responses. AccountProvider is consumed by the password grant
// and by ID Token composition; the Static implementation keeps accounts in
// memory with bcrypt password hashes and is suitable for tests and demos.
//
// Implementations are provided in subpackages:
//   - providers/mock: Mock provider for testing
//
// Example usage:
//
//	accounts := providers.NewStatic(nil)
//	if err := accounts.AddUser(providers.UserInfo{ID: "alice", Email: "alice@example.com"}, "s3cret"); err != nil {
//	    log.Fatal(err)
//	}
//
//	user, err := accounts.Authenticate(ctx, "alice", "s3cret")
package providers
