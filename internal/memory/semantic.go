package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"github.com/tessera-mem/tessera/internal/merr"
	"github.com/tessera-mem/tessera/internal/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// EntityGraph is the supplemental, best-effort knowledge graph fed by
// IngestionPipeline whenever a curated memory carries non-empty entities:
// it upserts each entity and a co-occurrence Relationship between every
// pair mentioned together. It is never consulted by RetrievalPipeline.
type EntityGraph struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewEntityGraph dials alphaURL and ensures the schema exists.
func NewEntityGraph(alphaURL string) (*EntityGraph, error) {
	conn, err := grpc.Dial(alphaURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to entity graph: %v", merr.Storage, err)
	}

	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	g := &EntityGraph{client: client, conn: conn}

	if err := g.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: initializing entity graph schema: %v", merr.Storage, err)
	}
	return g, nil
}

func (g *EntityGraph) initSchema(ctx context.Context) error {
	schema := `
		type Entity {
			entity.id: string
			entity.name: string
			entity.type: string
			entity.attributes: string
			entity.created: datetime
			entity.updated: datetime
			relationships: [Relationship]
		}

		type Relationship {
			rel.id: string
			rel.type: string
			rel.confidence: float
			rel.created: datetime
			from: uid
			to: uid
		}

		entity.id: string @index(exact) @upsert .
		entity.name: string @index(fulltext, trigram) .
		entity.type: string @index(exact) .
		entity.attributes: string .
		entity.created: datetime @index(hour) .
		entity.updated: datetime .

		rel.id: string @index(exact) .
		rel.type: string @index(exact) .
		rel.confidence: float .
		rel.created: datetime .

		from: uid @reverse .
		to: uid @reverse .
		relationships: [uid] @reverse .
	`
	return g.client.Alter(ctx, &api.Operation{Schema: schema})
}

// entityNode is the JSON-mutation shape for an Entity upsert.
type entityNode struct {
	EntityID         string                 `json:"entity.id"`
	EntityName       string                 `json:"entity.name"`
	EntityType       string                 `json:"entity.type"`
	EntityAttributes map[string]interface{} `json:"entity.attributes,omitempty"`
	EntityCreated    string                 `json:"entity.created"`
	EntityUpdated    string                 `json:"entity.updated"`
	DgraphType       string                 `json:"dgraph.type"`
}

// UpsertEntity creates or refreshes an Entity node. Mutation payloads are
// built via json.Marshal rather than string formatting, so an entity name
// containing quotes or control characters can't break out of the mutation.
func (g *EntityGraph) UpsertEntity(ctx context.Context, entity *models.Entity) error {
	now := time.Now().UTC().Format(time.RFC3339)
	node := entityNode{
		EntityID:         entity.ID,
		EntityName:       entity.Name,
		EntityType:       entity.Type,
		EntityAttributes: entity.Attributes,
		EntityCreated:    now,
		EntityUpdated:    now,
		DgraphType:       "Entity",
	}
	payload, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("%w: %v", merr.Serialization, err)
	}

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)
	_, err = txn.Mutate(ctx, &api.Mutation{CommitNow: true, SetJson: payload})
	if err != nil {
		return fmt.Errorf("%w: upserting entity: %v", merr.Storage, err)
	}
	return nil
}

// StoreRelationship links two already-upserted entities by id.
func (g *EntityGraph) StoreRelationship(ctx context.Context, rel *models.Relationship) error {
	fromUID, err := g.entityUID(ctx, rel.FromID)
	if err != nil {
		return fmt.Errorf("%w: resolving relationship source: %v", merr.Storage, err)
	}
	toUID, err := g.entityUID(ctx, rel.ToID)
	if err != nil {
		return fmt.Errorf("%w: resolving relationship target: %v", merr.Storage, err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"uid":            "_:rel",
		"rel.id":         rel.ID,
		"rel.type":       rel.Type,
		"rel.confidence": rel.Confidence,
		"rel.created":    time.Now().UTC().Format(time.RFC3339),
		"from":           map[string]string{"uid": fromUID},
		"to":             map[string]string{"uid": toUID},
		"dgraph.type":    "Relationship",
	})
	if err != nil {
		return fmt.Errorf("%w: %v", merr.Serialization, err)
	}

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)
	_, err = txn.Mutate(ctx, &api.Mutation{CommitNow: true, SetJson: payload})
	if err != nil {
		return fmt.Errorf("%w: storing relationship: %v", merr.Storage, err)
	}
	return nil
}

// entityUID resolves an application-level entity id to its Dgraph UID,
// using a query variable rather than string interpolation so an id crafted
// to contain DQL syntax can't alter the query.
func (g *EntityGraph) entityUID(ctx context.Context, entityID string) (string, error) {
	const q = `query q($id: string) {
		entity(func: eq(entity.id, $id)) {
			uid
		}
	}`

	txn := g.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$id": entityID})
	if err != nil {
		return "", err
	}

	var result struct {
		Entity []struct {
			UID string `json:"uid"`
		} `json:"entity"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return "", err
	}
	if len(result.Entity) == 0 {
		return "", fmt.Errorf("%w: entity %s", merr.NotFound, entityID)
	}
	return result.Entity[0].UID, nil
}

// ResolveEntity looks up an existing entity of the given type whose name
// contains every term of name (a full-text alloftext match, not an exact
// string comparison).
func (g *EntityGraph) ResolveEntity(ctx context.Context, name, entityType string) (*models.Entity, error) {
	const q = `query q($name: string, $type: string) {
		entities(func: alloftext(entity.name, $name)) @filter(eq(entity.type, $type)) {
			entity.id
			entity.name
			entity.type
		}
	}`

	txn := g.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$name": name, "$type": entityType})
	if err != nil {
		return nil, fmt.Errorf("%w: resolving entity: %v", merr.Storage, err)
	}

	var result struct {
		Entities []struct {
			ID   string `json:"entity.id"`
			Name string `json:"entity.name"`
			Type string `json:"entity.type"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", merr.Serialization, err)
	}
	if len(result.Entities) == 0 {
		return nil, nil
	}
	return &models.Entity{ID: result.Entities[0].ID, Name: result.Entities[0].Name, Type: result.Entities[0].Type}, nil
}

func (g *EntityGraph) Close() error { return g.conn.Close() }
