// Package transform defines the executable step capability that transform
// graph nodes are built from, the fitted column operations shipped with the
// server, and the registries used to decode steps and resolve user lambdas.
package transform
