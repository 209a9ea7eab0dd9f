// Package knowledge implements the knowledge retrieval binding used by
// specialists: documents are split into line-aligned chunks, embedded and
// stored in a chromem-go collection, then queried by top-k similarity.
package knowledge
