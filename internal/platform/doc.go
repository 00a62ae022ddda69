// Package platform declares the device capabilities the worker's command
// handlers call into, and ships two implementations: a provider that runs
// operator-configured command lines, and in-memory fakes for tests.
//
// Nothing here interprets platform-specific encodings. Structured replies from
// commands are JSON on stdout; list replies are one item per line.
package platform
