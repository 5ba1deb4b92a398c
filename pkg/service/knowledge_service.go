// Knowledge base with chromem-go vector store integration
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/event"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"gorm.io/gorm"
)

var (
	ErrDocumentNotFound    = errors.New("document not found")
	ErrVectorStoreDisabled = errors.New("vector store is disabled")
)

// KnowledgeService keeps knowledge documents in the database and mirrors
// them into one chromem collection per organization.
type KnowledgeService struct {
	db          *gorm.DB
	vectorDB    *chromem.DB
	embed       chromem.EmbeddingFunc
	persistent  bool
	collections sync.Map // collection name -> *chromem.Collection
	emitter     orchestrator.Emitter
	logger      *slog.Logger
}

// NewKnowledgeService opens the vector store. A nil embed disables search.
func NewKnowledgeService(database *gorm.DB, cfg config.VectorStoreConfig, embed chromem.EmbeddingFunc, emitter orchestrator.Emitter) (*KnowledgeService, error) {
	s := &KnowledgeService{
		db:      database,
		embed:   embed,
		emitter: emitter,
		logger:  utils.GetLogger(),
	}
	if s.emitter == nil {
		s.emitter = event.Global()
	}

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vector store directory: %w", err)
		}
		vdb, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector DB: %w", err)
		}
		s.vectorDB = vdb
		s.persistent = true
	} else {
		s.vectorDB = chromem.NewDB()
	}
	s.logger.Info("Vector store initialized", "path", cfg.Path, "search", embed != nil)
	return s, nil
}

// Enabled reports whether documents can be embedded and searched.
func (s *KnowledgeService) Enabled() bool {
	return s.embed != nil
}

// Persistent reports whether vectors survive a restart.
func (s *KnowledgeService) Persistent() bool {
	return s.persistent
}

func collectionName(orgID string) string {
	return "org_" + orgID
}

func (s *KnowledgeService) collection(orgID string) (*chromem.Collection, error) {
	if s.embed == nil {
		return nil, ErrVectorStoreDisabled
	}
	name := collectionName(orgID)
	if col, ok := s.collections.Load(name); ok {
		return col.(*chromem.Collection), nil
	}
	col, err := s.vectorDB.GetOrCreateCollection(name, map[string]string{"organization_id": orgID}, s.embed)
	if err != nil {
		return nil, err
	}
	actual, _ := s.collections.LoadOrStore(name, col)
	return actual.(*chromem.Collection), nil
}

// IndexDocument stores the document and upserts its vector. Re-indexing an
// unchanged document skips the embedding call.
func (s *KnowledgeService) IndexDocument(ctx context.Context, orgID string, req *models.IndexDocumentRequest) (*db.KnowledgeDocument, error) {
	col, err := s.collection(orgID)
	if err != nil {
		return nil, err
	}

	doc := &db.KnowledgeDocument{
		ID:             strings.TrimSpace(req.ID),
		OrganizationID: orgID,
		Title:          strings.TrimSpace(req.Title),
		Source:         strings.TrimSpace(req.Source),
		Content:        strings.TrimSpace(req.Content),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	sum := sha256.Sum256([]byte(doc.Title + "\n" + doc.Content))
	doc.ContentHash = hex.EncodeToString(sum[:])

	var existing db.KnowledgeDocument
	err = s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", doc.ID, orgID).First(&existing).Error
	switch {
	case err == nil:
		doc.CreatedAt = existing.CreatedAt
		if existing.ContentHash == doc.ContentHash && existing.Source == doc.Source {
			if _, getErr := col.GetByID(ctx, doc.ID); getErr == nil {
				return &existing, nil
			}
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	if err := s.addVector(ctx, col, doc); err != nil {
		return nil, err
	}

	s.emitter.Emit(event.DocumentIndexedEvent{OrganizationID: orgID, DocumentID: doc.ID})
	s.logger.Info("Document indexed", "organizationID", orgID, "documentID", doc.ID)
	return doc, nil
}

func (s *KnowledgeService) addVector(ctx context.Context, col *chromem.Collection, doc *db.KnowledgeDocument) error {
	content := doc.Content
	if doc.Title != "" {
		content = doc.Title + "\n\n" + doc.Content
	}
	err := col.AddDocument(ctx, chromem.Document{
		ID:      doc.ID,
		Content: content,
		Metadata: map[string]string{
			models.DocumentMetaTitle:  doc.Title,
			models.DocumentMetaSource: doc.Source,
		},
	})
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteDocument removes a document from both stores.
func (s *KnowledgeService) DeleteDocument(ctx context.Context, orgID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).Delete(&db.KnowledgeDocument{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	if col, err := s.collection(orgID); err == nil {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			s.logger.Warn("Failed to remove document from vector store", "documentID", id, "error", err)
		}
	}
	return nil
}

func (s *KnowledgeService) ListDocuments(ctx context.Context, orgID string) ([]db.KnowledgeDocument, error) {
	var docs []db.KnowledgeDocument
	err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("created_at ASC").Find(&docs).Error
	return docs, err
}

// Search returns up to limit hits, best first.
func (s *KnowledgeService) Search(ctx context.Context, orgID, query string, limit int) ([]models.DocumentMatch, error) {
	col, err := s.collection(orgID)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 || strings.TrimSpace(query) == "" {
		return []models.DocumentMatch{}, nil
	}

	results, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, orchestrator.Transient("vector search", err)
	}
	matches := make([]models.DocumentMatch, 0, len(results))
	for _, r := range results {
		content := r.Content
		if title := r.Metadata[models.DocumentMetaTitle]; title != "" {
			content = strings.TrimPrefix(content, title+"\n\n")
		}
		matches = append(matches, models.DocumentMatch{
			ID:         r.ID,
			Content:    content,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		})
	}
	return matches, nil
}

// Reindex rebuilds the vectors of every stored document. Used on startup
// when the vector store is in memory.
func (s *KnowledgeService) Reindex(ctx context.Context) (int, error) {
	if s.embed == nil {
		return 0, ErrVectorStoreDisabled
	}
	var docs []db.KnowledgeDocument
	if err := s.db.WithContext(ctx).Order("organization_id, created_at").Find(&docs).Error; err != nil {
		return 0, err
	}
	count := 0
	for i := range docs {
		col, err := s.collection(docs[i].OrganizationID)
		if err != nil {
			return count, err
		}
		if err := s.addVector(ctx, col, &docs[i]); err != nil {
			s.logger.Warn("Failed to reindex document", "documentID", docs[i].ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// EmbeddingFuncFromConfig builds the embedding function for the vector
// store: an eino embedder when the provider has one, otherwise the chromem
// built-in client. It returns nil when no provider is configured.
func EmbeddingFuncFromConfig(ctx context.Context, ms *ModelService, cfg config.EmbeddingConfig) chromem.EmbeddingFunc {
	if strings.TrimSpace(cfg.Provider) == "" {
		return nil
	}
	mc := models.EmbeddingModelFromConfig(cfg)
	logger := utils.GetLogger()

	if ms != nil {
		emb, err := ms.CreateEmbedder(ctx, mc)
		if err == nil {
			logger.Info("Using eino embedder", "provider", mc.Provider, "model", mc.Model)
			return embeddingFuncFromEmbedder(emb)
		}
		logger.Warn("Failed to create embedder, trying chromem built-in", "provider", mc.Provider, "error", err)
	}

	switch mc.Provider {
	case "openai", "custom":
		apiKey := apiKeyFor(mc)
		if apiKey == "" {
			return nil
		}
		model := mc.Model
		if model == "" {
			model = string(chromem.EmbeddingModelOpenAI3Small)
		}
		if mc.BaseUrl != "" {
			return chromem.NewEmbeddingFuncOpenAICompat(mc.BaseUrl, apiKey, model, nil)
		}
		return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))
	case "ollama":
		baseURL, model := mc.BaseUrl, mc.Model
		if baseURL == "" {
			baseURL = "http://localhost:11434/api"
		}
		if model == "" {
			model = "nomic-embed-text"
		}
		return chromem.NewEmbeddingFuncOllama(model, baseURL)
	}
	return nil
}

// embeddingFuncFromEmbedder wraps eino Embedder as chromem.EmbeddingFunc
func embeddingFuncFromEmbedder(embedder embedding.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		embeddings, err := embedder.EmbedStrings(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(embeddings) == 0 {
			return nil, fmt.Errorf("no embeddings returned")
		}
		result := make([]float32, len(embeddings[0]))
		for i, v := range embeddings[0] {
			result[i] = float32(v)
		}
		return result, nil
	}
}

var _ orchestrator.VectorSearch = (*KnowledgeService)(nil)
