// Package maildir provides Maildir folder stores and sources.
//
// Messages are filed with the usual Maildir directory structure:
//
//	folder/
//	├── new/     # Newly filed messages
//	├── cur/     # Messages with flags, and scanned source messages
//	└── tmp/     # Temporary files during delivery
//
// The package registers itself with the mailfiler store registry under the
// name "maildir". Import it with a blank identifier to enable maildir support:
//
//	import _ "github.com/infodancer/mailfiler/maildir"
//
// Then open a folder:
//
//	store, err := mailfiler.Open(mailfiler.StoreConfig{
//	    Type: "maildir",
//	    Path: "/home/user/Mail/spam",
//	})
package maildir
