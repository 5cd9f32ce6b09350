package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/internal/storage"
	"github.com/hourse/backend/pkg/logger"
	"github.com/spf13/afero"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	keyQueryPattern = "key = ?"

	// Presigned S3 links cannot outlive seven days.
	brandingURLExpiry = 7 * 24 * time.Hour

	BrandingAssetLogo = "logo"
	BrandingAssetIcon = "icon"

	mobileAssetsField     = "mobileAssets"
	mobileAssetPathsField = "mobileAssetPaths"
)

// Branding stores object keys only; these URL fields are signed from them on
// every read so presigned links never go stale.
var brandingURLFields = map[string]string{
	"logoUrl": "logoPath",
	"iconUrl": "iconPath",
}

var secretKeyMarkers = []string{"secret", "key", "token", "password"}

// SettingsStore is the key/value layer over app_settings.
type SettingsStore struct {
	DB *gorm.DB
}

func NewSettingsStore(db *gorm.DB) *SettingsStore {
	return &SettingsStore{DB: db}
}

func (s *SettingsStore) Get(ctx context.Context, key string) (*models.AppSetting, error) {
	if s == nil || s.DB == nil {
		return nil, ErrDBNil
	}
	if key == "" {
		return nil, ErrSettingKeyEmpty
	}

	var setting models.AppSetting
	if err := s.DB.WithContext(ctx).Where(keyQueryPattern, key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettingNotFound
		}
		return nil, err
	}
	return &setting, nil
}

// Set creates or replaces the value stored under key.
func (s *SettingsStore) Set(ctx context.Context, key string, value datatypes.JSONMap) (*models.AppSetting, error) {
	if s == nil || s.DB == nil {
		return nil, ErrDBNil
	}
	if key == "" {
		return nil, ErrSettingKeyEmpty
	}
	if value == nil {
		value = datatypes.JSONMap{}
	}

	setting, err := s.Get(ctx, key)
	if errors.Is(err, ErrSettingNotFound) {
		setting = &models.AppSetting{Key: key, Value: value}
		if err := s.DB.WithContext(ctx).Create(setting).Error; err != nil {
			return nil, err
		}
		return setting, nil
	}
	if err != nil {
		return nil, err
	}

	setting.Value = value
	if err := s.DB.WithContext(ctx).Save(setting).Error; err != nil {
		return nil, err
	}
	return setting, nil
}

func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.DB == nil {
		return ErrDBNil
	}
	if key == "" {
		return ErrSettingKeyEmpty
	}

	result := s.DB.WithContext(ctx).Unscoped().Where(keyQueryPattern, key).Delete(&models.AppSetting{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSettingNotFound
	}
	return nil
}

// BrandingService keeps branding in app_settings with a JSON file mirror
// that is read whenever the database cannot answer.
type BrandingService struct {
	Store        *SettingsStore
	Fs           afero.Fs
	FallbackPath string
	Storage      storage.Backend
	Media        *MediaService
}

func NewBrandingService(store *SettingsStore, fs afero.Fs, fallbackPath string, backend storage.Backend, media *MediaService) *BrandingService {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &BrandingService{Store: store, Fs: fs, FallbackPath: fallbackPath, Storage: backend, Media: media}
}

// Get never fails: database, then fallback file, then an empty object.
func (b *BrandingService) Get(ctx context.Context) map[string]interface{} {
	return b.withURLs(ctx, b.stored(ctx))
}

func (b *BrandingService) stored(ctx context.Context) map[string]interface{} {
	setting, err := b.Store.Get(ctx, models.SettingKeyBranding)
	if err == nil {
		return copyMap(setting.Value)
	}
	if !errors.Is(err, ErrSettingNotFound) {
		logger.Warn("branding_db_read_failed", map[string]interface{}{"error": err.Error()})
	}

	fromFile, err := b.readFallback()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("branding_file_read_failed", map[string]interface{}{
				"path":  b.FallbackPath,
				"error": err.Error(),
			})
		}
		return map[string]interface{}{}
	}
	return fromFile
}

// Update merges patch into the stored branding. A database failure falls
// back to the file; on success the file is rewritten as a mirror.
func (b *BrandingService) Update(ctx context.Context, patch map[string]interface{}) (map[string]interface{}, error) {
	merged := b.stored(ctx)
	for urlField, pathField := range brandingURLFields {
		if _, ok := patch[urlField]; ok {
			if _, keyed := patch[pathField]; !keyed {
				delete(merged, pathField)
			}
		}
	}
	if _, ok := patch[mobileAssetsField]; ok {
		if _, keyed := patch[mobileAssetPathsField]; !keyed {
			delete(merged, mobileAssetPathsField)
		}
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	for urlField, pathField := range brandingURLFields {
		if _, ok := merged[pathField]; ok {
			delete(merged, urlField)
		}
	}
	if _, ok := merged[mobileAssetPathsField]; ok {
		delete(merged, mobileAssetsField)
	}
	merged["updatedAt"] = time.Now().UTC().Format(time.RFC3339)

	if _, err := b.Store.Set(ctx, models.SettingKeyBranding, datatypes.JSONMap(merged)); err != nil {
		logger.Error("branding_db_write_failed", err, map[string]interface{}{"path": b.FallbackPath})
		if fileErr := b.writeFallback(merged); fileErr != nil {
			return nil, fmt.Errorf("persist branding: %w", fileErr)
		}
		return b.withURLs(ctx, merged), nil
	}

	if err := b.writeFallback(merged); err != nil {
		logger.Warn("branding_file_mirror_failed", map[string]interface{}{
			"path":  b.FallbackPath,
			"error": err.Error(),
		})
	}
	return b.withURLs(ctx, merged), nil
}

// withURLs returns a copy of value with asset URLs signed from their keys.
func (b *BrandingService) withURLs(ctx context.Context, value map[string]interface{}) map[string]interface{} {
	out := copyMap(value)
	if b.Storage == nil {
		return out
	}

	for urlField, pathField := range brandingURLFields {
		if key, _ := value[pathField].(string); key != "" {
			if link, ok := b.signURL(ctx, key); ok {
				out[urlField] = link
			}
		}
	}

	if paths, ok := value[mobileAssetPathsField].(map[string]interface{}); ok {
		urls := make(map[string]interface{}, len(paths))
		for name, raw := range paths {
			if key, _ := raw.(string); key != "" {
				if link, ok := b.signURL(ctx, key); ok {
					urls[name] = link
				}
			}
		}
		out[mobileAssetsField] = urls
	}
	return out
}

func (b *BrandingService) signURL(ctx context.Context, key string) (string, bool) {
	link, err := b.Storage.URL(ctx, key, brandingURLExpiry)
	if err != nil {
		logger.Warn("branding_url_sign_failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return "", false
	}
	return link, true
}

// UploadAsset stores a compressed logo or icon and records its object key.
func (b *BrandingService) UploadAsset(ctx context.Context, kind, filename, contentType string, data []byte) (map[string]interface{}, error) {
	if kind != BrandingAssetLogo && kind != BrandingAssetIcon {
		return nil, fmt.Errorf("%w: unknown branding asset %q", ErrInvalidInput, kind)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}

	contentType = resolveContentType(contentType, filename)
	if !IsImage(contentType) {
		return nil, fmt.Errorf("%w: %s must be an image", ErrInvalidInput, kind)
	}

	compressed, outType, err := b.Media.Compress(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	ext := ".jpg"
	if outType == "image/png" {
		ext = ".png"
	} else if outType == contentType {
		ext = strings.ToLower(filepath.Ext(filename))
	}
	key := fmt.Sprintf("branding/%s-%s%s", kind, uuid.New(), ext)

	if err := b.Storage.Upload(ctx, key, bytes.NewReader(compressed), int64(len(compressed)), outType); err != nil {
		return nil, fmt.Errorf("upload %s: %w", kind, err)
	}

	return b.Update(ctx, map[string]interface{}{
		kind + "Path": key,
	})
}

// GenerateMobileAssets renders the icon set from the current icon.
func (b *BrandingService) GenerateMobileAssets(ctx context.Context) (map[string]interface{}, error) {
	current := b.stored(ctx)
	iconPath, _ := current["iconPath"].(string)
	if iconPath == "" {
		return nil, fmt.Errorf("%w: upload an icon first", ErrInvalidInput)
	}

	reader, _, err := b.Storage.Download(ctx, iconPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := readAllLimited(reader, 20<<20)
	if err != nil {
		return nil, err
	}

	background, _ := current["backgroundColor"].(string)
	assets, err := b.Media.MobileAssets(data, ParseHexColor(background))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	prefix := fmt.Sprintf("branding/mobile/%s", uuid.New())
	keys := make(map[string]interface{}, len(assets))
	for name, content := range assets {
		key := path.Join(prefix, name)
		if err := b.Storage.Upload(ctx, key, bytes.NewReader(content), int64(len(content)), "image/png"); err != nil {
			return nil, fmt.Errorf("upload %s: %w", name, err)
		}
		keys[name] = key
	}

	logger.Info("branding_mobile_assets_generated", map[string]interface{}{
		"prefix": prefix,
		"count":  len(keys),
	})

	return b.Update(ctx, map[string]interface{}{mobileAssetPathsField: keys})
}

func (b *BrandingService) readFallback() (map[string]interface{}, error) {
	if b.FallbackPath == "" {
		return nil, os.ErrNotExist
	}
	raw, err := afero.ReadFile(b.Fs, b.FallbackPath)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BrandingService) writeFallback(value map[string]interface{}) error {
	if b.FallbackPath == "" {
		return errors.New("no branding fallback path configured")
	}
	if err := b.Fs.MkdirAll(filepath.Dir(b.FallbackPath), 0o750); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(b.Fs, b.FallbackPath, raw, 0o640)
}

// IntegrationsService stores third-party integration settings and masks
// anything that looks like a credential when reading them back.
type IntegrationsService struct {
	Store *SettingsStore
}

func NewIntegrationsService(store *SettingsStore) *IntegrationsService {
	return &IntegrationsService{Store: store}
}

func (i *IntegrationsService) Get(ctx context.Context) (map[string]interface{}, error) {
	setting, err := i.Store.Get(ctx, models.SettingKeyIntegrations)
	if errors.Is(err, ErrSettingNotFound) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	return MaskSecrets(setting.Value), nil
}

// Update merges patch into the stored value. Masked values echoed back by a
// client leave the stored secret untouched.
func (i *IntegrationsService) Update(ctx context.Context, patch map[string]interface{}) (map[string]interface{}, error) {
	current := map[string]interface{}{}
	setting, err := i.Store.Get(ctx, models.SettingKeyIntegrations)
	switch {
	case err == nil:
		current = copyMap(setting.Value)
	case !errors.Is(err, ErrSettingNotFound):
		return nil, err
	}

	mergeIntegrations(current, patch)

	saved, err := i.Store.Set(ctx, models.SettingKeyIntegrations, datatypes.JSONMap(current))
	if err != nil {
		return nil, err
	}
	return MaskSecrets(saved.Value), nil
}

func mergeIntegrations(dst, patch map[string]interface{}) {
	for k, v := range patch {
		if s, ok := v.(string); ok && strings.HasPrefix(s, "****") {
			continue
		}
		nested, ok := v.(map[string]interface{})
		if !ok {
			if v == nil {
				delete(dst, k)
			} else {
				dst[k] = v
			}
			continue
		}
		existing, ok := dst[k].(map[string]interface{})
		if !ok {
			existing = map[string]interface{}{}
		}
		mergeIntegrations(existing, nested)
		dst[k] = existing
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// MaskSecrets returns a copy with secret-looking string values replaced by
// "****" plus their last four characters.
func MaskSecrets(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch value := v.(type) {
		case map[string]interface{}:
			out[k] = MaskSecrets(value)
		case string:
			if isSecretKey(k) && value != "" {
				out[k] = maskValue(value)
			} else {
				out[k] = value
			}
		default:
			out[k] = v
		}
	}
	return out
}

func maskValue(value string) string {
	runes := []rune(value)
	if len(runes) <= 4 {
		return "****"
	}
	return "****" + string(runes[len(runes)-4:])
}

func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, limit)
	}
	return data, nil
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
