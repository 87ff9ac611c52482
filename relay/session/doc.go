/*
Package session drives one prompt-driven REPL subprocess through an ordered list of commands.

A session owns the subprocess, its stdin, and an output accumulator. The protocol proceeds as follows:

 1. The REPL binary is started with the connection arguments for the target device.
 2. Every stdout chunk is appended to the accumulator. When the accumulator ends with the prompt marker,
    it is reset and the sequencer advances by one step. This is the only point at which input is sent.
 3. On each step the sequencer pops the next command. A "wait <ms>" command sends a bare newline after
    the given delay instead of writing anything immediately. Any other command is written verbatim with a newline.
 4. Once the list is exhausted, "exit" is written and stdin is closed.
 5. When the process exits, for any reason, the session is done. Children the REPL leaves behind
    do not hold the session open, even if they inherited its stdout.

Stderr goes to the null device.

There is no built-in timeout. A REPL that never prints its prompt keeps the session open until
the caller gives up via Wait's context and calls Kill.
*/
package session
