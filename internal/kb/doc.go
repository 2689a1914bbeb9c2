// Package kb loads the knowledge base files (corpus, embedding matrix and
// optional metadata) into immutable snapshots.
//
// Initialize never fails outright. It reports a typed State: Ready when the
// corpus and matrix line up, Degraded when only keyword search is possible,
// and Unavailable when there is no corpus at all. A Reloader rebuilds
// snapshots when the files change and hands them to a Swapper, which keeps
// the previous snapshot if the new one is worse or misaligned.
package kb
