// Package textutil provides small text helpers shared by the submission
// and upload paths: deriving a display title from a file name and
// sanitizing untrusted file names before they touch the filesystem.
package textutil
