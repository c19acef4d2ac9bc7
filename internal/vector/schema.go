package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the single Weaviate class holding every collection's
// records. Collections are a property filter, not separate classes,
// because class names cannot carry arbitrary collection names.
const ClassName = "EmbeddingRecord"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema checks if the required class exists and creates it if not
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "collection",
			DataType: []string{"string"}, // exact match
		},
		{
			Name:     "recordId",
			DataType: []string{"string"},
		},
		{
			Name:     "content",
			DataType: []string{"text"},
		},
		{
			Name:     "mediaId",
			DataType: []string{"string"},
		},
		{
			Name:     "chunkIndex",
			DataType: []string{"int"},
		},
		{
			Name:     "totalChunks",
			DataType: []string{"int"},
		},
		{
			Name:     "fileName",
			DataType: []string{"string"},
		},
		{
			Name:     "contextualized",
			DataType: []string{"boolean"},
		},
		{
			Name:     "metadataJson",
			DataType: []string{"text"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       ClassName,
			Description: "An embedded chunk of source content, scoped to a collection",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, ClassName, p); err != nil {
				return err
			}
		}
	}

	return nil
}
