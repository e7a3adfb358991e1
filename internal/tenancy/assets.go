package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenantdesk/internal/company"
	"tenantdesk/internal/storage"
)

// SetCompanyAsset uploads a logo or pricing document and points the company
// at it. The upload is removed again if the company cannot be updated; the
// previous file is removed afterwards on a best-effort basis.
func (m *Manager) SetCompanyAsset(ctx context.Context, companyID, actorID uuid.UUID, asset company.Asset, file AssetUpload) (*AssetResult, error) {
	if _, err := m.requireMember(ctx, companyID, actorID); err != nil {
		return nil, err
	}

	maxSizeMB := storage.MaxUploadSizeMB
	if asset == company.AssetLogo {
		maxSizeMB = storage.MaxLogoSizeMB
	}
	if err := m.files.Validate(int64(len(file.Data)), file.Filename, maxSizeMB); err != nil {
		return nil, err
	}
	if asset == company.AssetLogo && !storage.IsImage(file.Filename) {
		return nil, ErrLogoNotImage
	}

	current, err := m.getCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	url, err := m.files.Upload(ctx, file.Data, file.Filename, actorID, string(asset))
	if err != nil {
		return nil, err
	}

	rowsAffected, err := m.companies.Update(ctx, companyID, []company.Change{{Column: asset.Column(), Value: &url}})
	if err == nil && rowsAffected == 0 {
		err = ErrCompanyNotFound
	}
	if err != nil {
		if delErr := m.files.Delete(ctx, url, actorID); delErr != nil {
			zerolog.Ctx(ctx).Warn().Err(delErr).Str("url", url).Msg("failed to remove orphaned upload")
		}
		if errors.Is(err, ErrCompanyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update company %s: %w", asset.Column(), err)
	}

	result := &AssetResult{URL: url}
	if old := current.URL(asset); old != "" {
		result.CleanupErr = m.files.Delete(ctx, old, actorID)
	}

	updated, err := m.getCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	result.Company = updated
	return result, nil
}
