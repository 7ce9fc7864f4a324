/*
Package log is a thin github.com/rs/zerolog wrapper shared by every
component that does I/O: storage backends and wrappers, the repository
facade, and the HTTP boundary. Init maps the repository's debug
verbosity knob (0 silent, 1 errors, 2 warnings, 3 everything) onto the
package logger; WithComponent and ForBag derive child loggers carrying
the fields the rest of the codebase filters on.
*/
package log
