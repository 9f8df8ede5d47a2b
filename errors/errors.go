// Package errors provides centralized error definitions for mailfiler.
package errors

import "errors"

// Rule file errors.
var (
	// ErrSyntax indicates a rule line could not be parsed.
	ErrSyntax = errors.New("rule syntax error")

	// ErrUnknownGroup indicates a rule references an address group that cannot be resolved.
	ErrUnknownGroup = errors.New("unknown address group")

	// ErrUnknownFunction indicates a rule references a function that is not registered.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrBadArgument indicates a function argument could not be parsed.
	ErrBadArgument = errors.New("bad function argument")

	// ErrIncludeDepth indicates include directives nest too deeply or form a cycle.
	ErrIncludeDepth = errors.New("include depth exceeded")

	// ErrNoRules indicates a rule file was expected but does not exist.
	ErrNoRules = errors.New("rule file not found")
)

// Folder errors.
var (
	// ErrFolderNotFound indicates the requested folder does not exist.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrFolderLocked indicates the folder is locked by another process.
	ErrFolderLocked = errors.New("folder locked")

	// ErrInvalidPath indicates a folder path is empty or escapes its root.
	ErrInvalidPath = errors.New("invalid folder path")

	// ErrPathTraversal indicates a folder name resolved outside the mail root.
	ErrPathTraversal = errors.New("path escapes mail root")
)

// Message errors.
var (
	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMalformedMessage indicates the message header could not be parsed.
	ErrMalformedMessage = errors.New("malformed message")
)

// Filing errors.
var (
	// ErrNoTargets indicates no rule matched and no DEFAULT target was set.
	ErrNoTargets = errors.New("no deliverable targets")

	// ErrNoOperatorAddress indicates an address target was used but no operator address is configured.
	ErrNoOperatorAddress = errors.New("no operator address configured")

	// ErrDeliveryFailed indicates a deliverable target could not be dispatched.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrCommandFailed indicates a pipe target exited with a non-zero status.
	ErrCommandFailed = errors.New("command failed")
)

// Store errors.
var (
	// ErrStoreNotRegistered indicates the requested store type is not registered.
	ErrStoreNotRegistered = errors.New("store type not registered")

	// ErrStoreConfigInvalid indicates the store configuration is invalid.
	ErrStoreConfigInvalid = errors.New("invalid store configuration")
)

// Transport errors.
var (
	// ErrTransportNotConfigured indicates no outbound transport is available.
	ErrTransportNotConfigured = errors.New("transport not configured")

	// ErrNoRecipients indicates no valid recipients were provided.
	ErrNoRecipients = errors.New("no recipients")
)

// Encryption errors.
var (
	// ErrKeyNotFound indicates no public key is configured for a folder.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidKeyFormat indicates the key file has an invalid format.
	ErrInvalidKeyFormat = errors.New("invalid key format")
)

// Group database errors.
var (
	// ErrGroupDBUnavailable indicates the address group database could not be opened.
	ErrGroupDBUnavailable = errors.New("group database unavailable")
)
