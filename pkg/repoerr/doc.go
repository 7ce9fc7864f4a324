/*
Package repoerr defines the structured error taxonomy shared by every layer
of the repository (storage backends, wrappers, the facade, and the HTTP
boundary). Each error carries a semantic Kind plus enough context (module,
procedure, parameters) to diagnose a failure without parsing a message
string.
*/
package repoerr
