// Package security provides the permission policy enforced by every tool
// that touches the operating system.
//
// Two validators are exposed:
//
//   - Path answers "may this absolute path be accessed?". A path passes when
//     its canonical, symlink-resolved form sits under one of the allowed
//     roots at a path-component boundary and matches no deny pattern.
//   - Command answers "may this command line be executed?". The policy is
//     deliberately conservative: an enumerated list of destructive forms is
//     rejected, statically detectable escapes to disallowed paths are
//     rejected, and everything borderline is allowed with the working
//     directory constrained to an allowed root.
//
// Both validators are immutable once constructed; the policy is set at
// server start and never mutated (tools hold shared references from
// concurrent goroutines).
package security
