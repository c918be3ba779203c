package utils

import (
	"context"
	"fmt"
	"os"

	"github.com/pinecone-io/go-pinecone/pinecone"
)

// TextEmbedder vectorizes text for knowledge-base queries. GeminiClient
// implements it.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// GetKnowledgeIndex connects to the first-aid reference index. The index
// holds curated first aid and emergency-procedure snippets keyed by a
// "text" metadata field; chat uses the matches as grounding context.
func GetKnowledgeIndex() (*pinecone.IndexConnection, error) {
	ctx := context.Background()

	indexName := os.Getenv("PINECONE_INDEX")
	if indexName == "" {
		return nil, fmt.Errorf("PINECONE_INDEX environment variable is not set")
	}

	pineconeAPIKey := os.Getenv("PINECONE_API_KEY")
	if pineconeAPIKey == "" {
		return nil, fmt.Errorf("PINECONE_API_KEY environment variable is not set")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: pineconeAPIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	idx, err := client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %q: %w", indexName, err)
	}

	idxConnection, err := client.Index(pinecone.NewIndexConnParams{Host: idx.Host, Namespace: "first-aid"})
	if err != nil {
		return nil, fmt.Errorf("failed to create IndexConnection for host %v: %w", idx.Host, err)
	}

	return idxConnection, nil
}

// FetchFirstAidContext retrieves the reference snippets most relevant to a
// chat question. Returns an empty slice when the index has no matches.
func FetchFirstAidContext(ctx context.Context, index *pinecone.IndexConnection, embedder TextEmbedder, question string) ([]string, error) {
	embedding, err := embedder.EmbedText(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("error vectorizing question: %w", err)
	}

	queryRequest := &pinecone.QueryByVectorValuesRequest{
		Vector:          embedding,
		TopK:            uint32(3),
		IncludeValues:   false,
		IncludeMetadata: true,
	}

	queryResponse, err := index.QueryByVectorValues(ctx, queryRequest)
	if err != nil {
		return nil, fmt.Errorf("error querying Pinecone index: %w", err)
	}

	var snippets []string
	for _, match := range queryResponse.Matches {
		if match.Vector == nil || match.Vector.Metadata == nil {
			continue
		}
		if value, ok := match.Vector.Metadata.Fields["text"]; ok {
			if text := value.GetStringValue(); text != "" {
				snippets = append(snippets, text)
			}
		}
	}

	return snippets, nil
}
