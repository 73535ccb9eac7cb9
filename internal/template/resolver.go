// Package template provides the resolver collaborator that hands the import
// pipeline its versioned column template. The pipeline depends only on the
// Resolver interface; the shipped implementation reads descriptors from the
// template catalog table.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raillogistic/bulkimport/internal/domain"
	"github.com/raillogistic/bulkimport/internal/repository"
)

// Resolver returns template descriptors for a target entity type. Resolve
// serves the current version for new uploads; ResolveVersion serves the exact
// version a batch was pinned to at creation.
type Resolver interface {
	Resolve(ctx context.Context, entityType string) (domain.TemplateDescriptor, error)
	ResolveVersion(ctx context.Context, templateID, version string) (domain.TemplateDescriptor, error)
}

// CatalogResolver resolves descriptors from the persisted template catalog.
type CatalogResolver struct {
	templates repository.TemplateRepository
}

// NewCatalogResolver wires a resolver backed by the template repository.
func NewCatalogResolver(templates repository.TemplateRepository) *CatalogResolver {
	return &CatalogResolver{templates: templates}
}

// Resolve returns the current descriptor for the entity type.
func (r *CatalogResolver) Resolve(ctx context.Context, entityType string) (domain.TemplateDescriptor, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return domain.TemplateDescriptor{}, errors.New("entity type is required")
	}
	descriptor, err := r.templates.Current(ctx, entityType)
	if err != nil {
		return domain.TemplateDescriptor{}, fmt.Errorf("failed to resolve template for %s: %w", entityType, err)
	}
	return descriptor, nil
}

// ResolveVersion returns the pinned descriptor version from the catalog.
func (r *CatalogResolver) ResolveVersion(ctx context.Context, templateID, version string) (domain.TemplateDescriptor, error) {
	descriptor, err := r.templates.Get(ctx, templateID, version)
	if err != nil {
		return domain.TemplateDescriptor{}, fmt.Errorf("failed to resolve template %s version %s: %w", templateID, version, err)
	}
	return descriptor, nil
}

// StaticResolver serves a fixed set of descriptors keyed by entity type.
// Useful for tests and single-tenant deployments with templates in config.
type StaticResolver struct {
	descriptors map[string]domain.TemplateDescriptor
}

// NewStaticResolver builds a resolver over the given descriptors.
func NewStaticResolver(descriptors ...domain.TemplateDescriptor) *StaticResolver {
	byType := make(map[string]domain.TemplateDescriptor, len(descriptors))
	for _, descriptor := range descriptors {
		byType[descriptor.EntityType] = descriptor
	}
	return &StaticResolver{descriptors: byType}
}

// Resolve returns the descriptor registered for the entity type.
func (r *StaticResolver) Resolve(ctx context.Context, entityType string) (domain.TemplateDescriptor, error) {
	descriptor, ok := r.descriptors[entityType]
	if !ok {
		return domain.TemplateDescriptor{}, fmt.Errorf("no template registered for entity type %s", entityType)
	}
	return descriptor, nil
}

// ResolveVersion returns the registered descriptor matching the template id
// and version. Static deployments carry a single version per template.
func (r *StaticResolver) ResolveVersion(ctx context.Context, templateID, version string) (domain.TemplateDescriptor, error) {
	for _, descriptor := range r.descriptors {
		if descriptor.TemplateID == templateID && descriptor.Version == version {
			return descriptor, nil
		}
	}
	return domain.TemplateDescriptor{}, fmt.Errorf("no template registered for %s version %s", templateID, version)
}
