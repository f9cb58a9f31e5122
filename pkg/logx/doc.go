// Package logx is the structured logger shared by every reminderd package.
//
// Logger wraps zerolog. Records go to a readable console, a JSON file, and
// optionally an alert sink that forwards warnings to an operator chat under
// a rate limit.
package logx
