// Package textutil holds small text helpers shared by processors: object key
// sanitizing and term extraction from document text.
package textutil
