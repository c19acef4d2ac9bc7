package vector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Result is one ranked hit from a vector query. Score is 1 - cosine
// distance, so higher is closer.
type Result struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
	Score    float32
}

// filterProps maps caller-facing metadata keys to the class properties
// they are stored under. Filters on any other key are rejected.
var filterProps = map[string]string{
	"media_id":       "mediaId",
	"chunk_index":    "chunkIndex",
	"total_chunks":   "totalChunks",
	"file_name":      "fileName",
	"contextualized": "contextualized",
	"record_id":      "recordId",
}

type Store struct {
	client   *weaviate.Client
	registry *Registry
}

func NewStore(client *weaviate.Client, registry *Registry) *Store {
	return &Store{client: client, registry: registry}
}

func (s *Store) Registry() *Registry {
	return s.registry
}

func (s *Store) List(ctx context.Context) ([]Collection, error) {
	return s.registry.List(ctx)
}

// EnsureCollection registers the collection, fixing its provider, model
// and dimension for all later writes.
func (s *Store) EnsureCollection(ctx context.Context, c Collection) (*Collection, error) {
	return s.registry.Ensure(ctx, c)
}

// objectID derives a stable object UUID from the collection and record
// id, so re-ingesting the same record replaces it instead of adding a
// duplicate.
func objectID(collection, id string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(collection+"/"+id)).String())
}

func (s *Store) Upsert(ctx context.Context, collection string, ids []string, vectors [][]float32, documents []string, metadatas []map[string]interface{}) error {
	if len(ids) != len(vectors) || len(ids) != len(documents) || len(ids) != len(metadatas) {
		return fmt.Errorf("upsert into %q: ids=%d vectors=%d documents=%d metadatas=%d, lengths must match",
			collection, len(ids), len(vectors), len(documents), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	reg, err := s.registry.Get(ctx, collection)
	if err != nil {
		return err
	}
	for _, v := range vectors {
		if len(v) != reg.Dimension {
			return &DimensionError{Collection: collection, Want: reg.Dimension, Got: len(v)}
		}
	}

	objects := make([]*models.Object, 0, len(ids))
	for i, id := range ids {
		props, err := recordProperties(collection, id, documents[i], metadatas[i])
		if err != nil {
			return err
		}
		objects = append(objects, &models.Object{
			Class:      ClassName,
			ID:         objectID(collection, id),
			Properties: props,
			Vector:     vectors[i],
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("upsert into %q: %s", collection, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func recordProperties(collection, id, document string, metadata map[string]interface{}) (map[string]interface{}, error) {
	cleaned := CleanMetadata(metadata)
	props := map[string]interface{}{
		"collection": collection,
		"recordId":   id,
		"content":    document,
	}
	if cleaned != nil {
		raw, err := json.Marshal(cleaned)
		if err != nil {
			return nil, fmt.Errorf("encode metadata for record %q: %w", id, err)
		}
		props["metadataJson"] = string(raw)
		for key, prop := range filterProps {
			if prop == "recordId" {
				continue
			}
			if v, ok := cleaned[key]; ok {
				props[prop] = v
			}
		}
	}
	return props, nil
}

func collectionWhere(collection string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"collection"}).
		WithOperator(filters.Equal).
		WithValueString(collection)
}

// buildWhere combines the collection scope with an optional metadata
// filter. Filter keys must be known scalar properties.
func buildWhere(collection string, filter map[string]interface{}) (*filters.WhereBuilder, error) {
	where := collectionWhere(collection)
	if len(filter) == 0 {
		return where, nil
	}

	operands := []*filters.WhereBuilder{where}
	for key, value := range filter {
		prop, ok := filterProps[key]
		if !ok {
			return nil, fmt.Errorf("unsupported filter key %q", key)
		}
		clause := filters.Where().WithPath([]string{prop}).WithOperator(filters.Equal)
		switch v := value.(type) {
		case string:
			clause = clause.WithValueString(v)
		case bool:
			clause = clause.WithValueBoolean(v)
		case int:
			clause = clause.WithValueInt(int64(v))
		case int64:
			clause = clause.WithValueInt(v)
		case float64:
			clause = clause.WithValueInt(int64(v))
		default:
			return nil, fmt.Errorf("unsupported filter value type %T for key %q", value, key)
		}
		operands = append(operands, clause)
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
}

func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int, filter map[string]interface{}) ([]Result, error) {
	reg, err := s.registry.Get(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != reg.Dimension {
		return nil, &DimensionError{Collection: collection, Want: reg.Dimension, Got: len(vector)}
	}

	where, err := buildWhere(collection, filter)
	if err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "recordId"},
		{Name: "metadataJson"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var results []Result
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if records, ok := data[ClassName].([]interface{}); ok {
			for _, rec := range records {
				props, ok := rec.(map[string]interface{})
				if !ok {
					continue
				}
				result := Result{}
				if content, ok := props["content"].(string); ok {
					result.Content = content
				}
				if id, ok := props["recordId"].(string); ok {
					result.ID = id
				}
				if raw, ok := props["metadataJson"].(string); ok && raw != "" {
					meta := map[string]interface{}{}
					if err := json.Unmarshal([]byte(raw), &meta); err == nil {
						result.Metadata = meta
					}
				}
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					if distance, ok := additional["distance"].(float64); ok {
						result.Score = 1 - float32(distance)
					} else if distance, ok := additional["distance"].(string); ok {
						var f float64
						fmt.Sscanf(distance, "%f", &f)
						result.Score = 1 - float32(f)
					}
				}
				results = append(results, result)
			}
		}
	}
	return results, nil
}

func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if _, err := s.registry.Get(ctx, collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			collectionWhere(collection),
			filters.Where().
				WithPath([]string{"recordId"}).
				WithOperator(filters.ContainsAny).
				WithValueString(ids...),
		})

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassName).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	return err
}

// Reset removes every record of the collection and drops its registry
// entry.
func (s *Store) Reset(ctx context.Context, collection string) error {
	if _, err := s.registry.Get(ctx, collection); err != nil {
		return err
	}

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(ClassName).
		WithOutput("minimal").
		WithWhere(collectionWhere(collection)).
		Do(ctx)
	if err != nil {
		return err
	}
	return s.registry.Delete(ctx, collection)
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.registry.Get(ctx, collection); err != nil {
		return 0, err
	}

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(ClassName).
		WithWhere(collectionWhere(collection)).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if groups, ok := data[ClassName].([]interface{}); ok && len(groups) > 0 {
			if group, ok := groups[0].(map[string]interface{}); ok {
				if meta, ok := group["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}
