// Package common holds request binding and error mapping shared by the HTTP handlers.
package common

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"chroma-rag/config"
	coreingest "chroma-rag/internal/core/ingest"
	"chroma-rag/internal/core/relevance"
	"chroma-rag/internal/core/retriever"
	ingestsvc "chroma-rag/internal/services/ingest"
	"chroma-rag/internal/vectorstore"
	"chroma-rag/pkg/apperror"
	"chroma-rag/pkg/apperror/status"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BindJSON decodes the body into out and validates it. On failure the error
// response has already been written and the returned error is the handler result.
func BindJSON(module config.Module, c fiber.Ctx, out any) (bool, error) {
	if err := c.Bind().JSON(out); err != nil {
		return false, apperror.BadRequest(module, c, status.InvalidRequestBody, "invalid request body: "+err.Error())
	}
	if err := validate.Struct(out); err != nil {
		return false, apperror.BadRequest(module, c, status.MissingParams, validationMessage(err))
	}
	return true, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// StoreError maps vector store failures to HTTP responses.
func StoreError(module config.Module, c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return apperror.NotFound(module, c, status.CollectionNotFound, err.Error())
	case errors.Is(err, vectorstore.ErrInvalidRequest):
		return apperror.BadRequest(module, c, status.InvalidVectorRequest, err.Error())
	case errors.Is(err, vectorstore.ErrUnavailable):
		return apperror.Unavailable(module, c, status.VectorStoreUnavailable, err)
	default:
		return apperror.InternalError(module, c, status.New(status.VectorStoreFailed, err))
	}
}

// RetrievalError maps retriever and evaluator failures, deferring to StoreError
// for everything that came from the store.
func RetrievalError(module config.Module, c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, relevance.ErrInvalidConfig):
		return apperror.BadRequest(module, c, status.RetrieverInvalidThreshold, err.Error())
	case errors.Is(err, retriever.ErrEmptyQuery):
		return apperror.BadRequest(module, c, status.RetrieverEmptyQuery, err.Error())
	case errors.Is(err, retriever.ErrInvalidParams):
		return apperror.BadRequest(module, c, status.InvalidQueryParams, err.Error())
	case errors.Is(err, retriever.ErrInvalidStrategy):
		return apperror.BadRequest(module, c, status.RetrieverInvalidStrategy, err.Error())
	case errors.Is(err, retriever.ErrEmbedding):
		return apperror.WriteError(module, c, fiber.StatusBadGateway, status.RetrieverEmbeddingFailed, err.Error())
	case errors.Is(err, retriever.ErrSearch):
		return apperror.InternalError(module, c, status.New(status.RetrieverSearchFailed, err))
	default:
		return StoreError(module, c, err)
	}
}

// IngestError maps ingestion and document write failures.
func IngestError(module config.Module, c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, coreingest.ErrUnsupportedInput), errors.Is(err, fs.ErrNotExist):
		return apperror.BadRequest(module, c, status.IngestInvalidSource, err.Error())
	case errors.Is(err, coreingest.ErrEmptyContent):
		return apperror.BadRequest(module, c, status.IngestEmptySource, err.Error())
	case errors.Is(err, ingestsvc.ErrEmptyText):
		return apperror.BadRequest(module, c, status.InvalidDocument, err.Error())
	case errors.Is(err, ingestsvc.ErrNoDocument):
		return apperror.NotFound(module, c, status.DocumentNotFound, err.Error())
	case errors.Is(err, ingestsvc.ErrNothingToDo):
		return apperror.BadRequest(module, c, status.MissingParams, err.Error())
	case errors.Is(err, retriever.ErrEmbedding):
		return apperror.WriteError(module, c, fiber.StatusBadGateway, status.RetrieverEmbeddingFailed, err.Error())
	case errors.Is(err, vectorstore.ErrCollectionNotFound),
		errors.Is(err, vectorstore.ErrInvalidRequest),
		errors.Is(err, vectorstore.ErrUnavailable):
		return StoreError(module, c, err)
	default:
		return apperror.InternalError(module, c, status.New(status.IngestFailed, err))
	}
}
