// Package domain contains the core entities of the lead flow engine:
// leads, email jobs, provider events, conditional email rules, and the
// runtime settings singleton. It has no dependencies on storage or
// transport; all policy questions (which transitions are legal, which
// events mean what) live in the rulebook package.
package domain
