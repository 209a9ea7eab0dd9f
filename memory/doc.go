// Package memory contains core.LongTermMemory backends: an in-process store,
// chromem-go, SQLite and Qdrant. Every backend embeds content with a
// core.Embedder, ranks by cosine similarity and filters by owner before
// ranking, so a query for one owner can never surface another owner's
// records.
package memory
