// Package logging provides file-based structured logging for the RAG++
// core: JSON logs with size-based rotation, by default under
// ~/.ragpp/logs/. `ragppd serve` enables it by default through its
// --log-file flag; an empty --log-file turns file logging off.
package logging
