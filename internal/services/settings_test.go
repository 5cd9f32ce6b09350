package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/hourse/backend/internal/config"
	"github.com/hourse/backend/internal/models"
	"github.com/hourse/backend/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const testBrandingPath = "/data/branding.json"

func newTestBrandingService(t *testing.T, store *SettingsStore) (*BrandingService, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	backend := storage.NewLocalBackendFs(afero.NewMemMapFs(), "http://cdn.test")
	media := NewMediaService(config.MediaConfig{})
	return NewBrandingService(store, fs, testBrandingPath, backend, media), fs
}

func TestSettingsStore_CRUD(t *testing.T) {
	store := NewSettingsStore(setupServiceTestDB(t))
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	_, err = store.Set(ctx, "", datatypes.JSONMap{})
	assert.ErrorIs(t, err, ErrSettingKeyEmpty)

	_, err = store.Set(ctx, "feature", datatypes.JSONMap{"enabled": true})
	require.NoError(t, err)
	_, err = store.Set(ctx, "feature", datatypes.JSONMap{"enabled": false})
	require.NoError(t, err)

	got, err := store.Get(ctx, "feature")
	require.NoError(t, err)
	assert.Equal(t, false, got.Value["enabled"])

	require.NoError(t, store.Delete(ctx, "feature"))
	assert.ErrorIs(t, store.Delete(ctx, "feature"), ErrSettingNotFound)
}

func TestSettingsStore_NilDB(t *testing.T) {
	store := NewSettingsStore(nil)
	_, err := store.Get(context.Background(), "branding")
	assert.ErrorIs(t, err, ErrDBNil)
}

func TestBranding_EmptyWhenNothingStored(t *testing.T) {
	service, _ := newTestBrandingService(t, NewSettingsStore(setupServiceTestDB(t)))
	assert.Equal(t, map[string]interface{}{}, service.Get(context.Background()))
}

func TestBranding_EmptyWhenDatabaseDownAndNoFile(t *testing.T) {
	service, _ := newTestBrandingService(t, NewSettingsStore(nil))
	assert.Equal(t, map[string]interface{}{}, service.Get(context.Background()))
}

func TestBranding_FallsBackToFileWhenDatabaseDown(t *testing.T) {
	service, fs := newTestBrandingService(t, NewSettingsStore(nil))
	require.NoError(t, afero.WriteFile(fs, testBrandingPath, []byte(`{"appName":"Hourse"}`), 0o640))

	assert.Equal(t, "Hourse", service.Get(context.Background())["appName"])
}

func TestBranding_UpdateWritesFileWhenDatabaseDown(t *testing.T) {
	service, fs := newTestBrandingService(t, NewSettingsStore(nil))

	saved, err := service.Update(context.Background(), map[string]interface{}{"primaryColor": "#ff0000"})
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", saved["primaryColor"])

	raw, err := afero.ReadFile(fs, testBrandingPath)
	require.NoError(t, err)
	var onDisk map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "#ff0000", onDisk["primaryColor"])
	assert.NotEmpty(t, onDisk["updatedAt"])
}

func TestBranding_UpdateMergesAndMirrors(t *testing.T) {
	db := setupServiceTestDB(t)
	service, fs := newTestBrandingService(t, NewSettingsStore(db))
	ctx := context.Background()

	_, err := service.Update(ctx, map[string]interface{}{"appName": "Hourse", "primaryColor": "#111111"})
	require.NoError(t, err)
	merged, err := service.Update(ctx, map[string]interface{}{"primaryColor": "#222222"})
	require.NoError(t, err)

	assert.Equal(t, "Hourse", merged["appName"])
	assert.Equal(t, "#222222", merged["primaryColor"])

	var row models.AppSetting
	require.NoError(t, db.Where("key = ?", models.SettingKeyBranding).First(&row).Error)
	assert.Equal(t, "#222222", row.Value["primaryColor"])

	exists, err := afero.Exists(fs, testBrandingPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBranding_UploadIconAndGenerateMobileAssets(t *testing.T) {
	service, _ := newTestBrandingService(t, NewSettingsStore(setupServiceTestDB(t)))
	ctx := context.Background()

	_, err := service.GenerateMobileAssets(ctx)
	assert.ErrorIs(t, err, ErrInvalidInput)

	icon := encodeTestImage(t, 600, 600, imaging.PNG)
	saved, err := service.UploadAsset(ctx, BrandingAssetIcon, "icon.png", "image/png", icon)
	require.NoError(t, err)

	iconPath, _ := saved["iconPath"].(string)
	assert.True(t, strings.HasPrefix(iconPath, "branding/icon-"))
	assert.True(t, strings.HasSuffix(iconPath, ".png"))
	assert.Equal(t, "http://cdn.test/"+iconPath, saved["iconUrl"])

	withAssets, err := service.GenerateMobileAssets(ctx)
	require.NoError(t, err)
	assets, ok := withAssets["mobileAssets"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, assets, len(MobileIconSizes)+1)
	assert.Contains(t, assets, "icon-1024.png")
	assert.Contains(t, assets, SplashName)

	_, err = service.UploadAsset(ctx, "banner", "b.png", "image/png", icon)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = service.UploadAsset(ctx, BrandingAssetLogo, "logo.txt", "text/plain", []byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIntegrations_MasksSecretsAndKeepsThemOnEcho(t *testing.T) {
	service := NewIntegrationsService(NewSettingsStore(setupServiceTestDB(t)))
	ctx := context.Background()

	empty, err := service.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	masked, err := service.Update(ctx, map[string]interface{}{
		"maps": map[string]interface{}{"apiKey": "abcdef123456", "region": "eu"},
	})
	require.NoError(t, err)
	maps := masked["maps"].(map[string]interface{})
	assert.Equal(t, "****3456", maps["apiKey"])
	assert.Equal(t, "eu", maps["region"])

	_, err = service.Update(ctx, map[string]interface{}{
		"maps": map[string]interface{}{"apiKey": "****3456", "region": "us"},
	})
	require.NoError(t, err)

	setting, err := service.Store.Get(ctx, models.SettingKeyIntegrations)
	require.NoError(t, err)
	stored := setting.Value["maps"].(map[string]interface{})
	assert.Equal(t, "abcdef123456", stored["apiKey"])
	assert.Equal(t, "us", stored["region"])
}

// signingBackend hands out a different link on every URL call, the way
// presigned S3 links carry a fresh signature.
type signingBackend struct {
	storage.Backend
	signed int
}

func (s *signingBackend) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.signed++
	return fmt.Sprintf("https://s3.test/%s?sig=%d", key, s.signed), nil
}

func TestBranding_AssetURLsAreSignedOnRead(t *testing.T) {
	store := NewSettingsStore(setupServiceTestDB(t))
	service, _ := newTestBrandingService(t, store)
	backend := &signingBackend{Backend: service.Storage}
	service.Storage = backend
	ctx := context.Background()

	icon := encodeTestImage(t, 300, 300, imaging.PNG)
	_, err := service.UploadAsset(ctx, BrandingAssetIcon, "icon.png", "image/png", icon)
	require.NoError(t, err)
	_, err = service.GenerateMobileAssets(ctx)
	require.NoError(t, err)

	setting, err := store.Get(ctx, models.SettingKeyBranding)
	require.NoError(t, err)
	assert.NotContains(t, setting.Value, "iconUrl")
	assert.NotContains(t, setting.Value, "mobileAssets")
	assert.Contains(t, setting.Value, "iconPath")
	assert.Contains(t, setting.Value, "mobileAssetPaths")

	first := service.Get(ctx)
	second := service.Get(ctx)
	iconPath := first["iconPath"].(string)
	assert.True(t, strings.HasPrefix(first["iconUrl"].(string), "https://s3.test/"+iconPath+"?sig="))
	assert.NotEqual(t, first["iconUrl"], second["iconUrl"])

	assets := second["mobileAssets"].(map[string]interface{})
	assert.Len(t, assets, len(MobileIconSizes)+1)
	assert.Contains(t, assets["icon-1024.png"], "https://s3.test/branding/mobile/")
}

func TestBranding_ExplicitURLReplacesUploadedAsset(t *testing.T) {
	service, _ := newTestBrandingService(t, NewSettingsStore(setupServiceTestDB(t)))
	ctx := context.Background()

	_, err := service.UploadAsset(ctx, BrandingAssetLogo, "logo.png", "image/png", encodeTestImage(t, 100, 100, imaging.PNG))
	require.NoError(t, err)

	updated, err := service.Update(ctx, map[string]interface{}{"logoUrl": "https://example.com/logo.png"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/logo.png", updated["logoUrl"])
	assert.NotContains(t, updated, "logoPath")
	assert.Equal(t, "https://example.com/logo.png", service.Get(ctx)["logoUrl"])
}

func TestMaskSecrets(t *testing.T) {
	out := MaskSecrets(map[string]interface{}{"token": "abc", "name": "x", "count": 3})
	assert.Equal(t, "****", out["token"])
	assert.Equal(t, "x", out["name"])
	assert.Equal(t, 3, out["count"])
}

func TestMaskSecrets_KeepsRunesWhole(t *testing.T) {
	out := MaskSecrets(map[string]interface{}{"password": "pässwörd€€"})
	masked := out["password"].(string)
	assert.Equal(t, "****rd€€", masked)
	assert.True(t, utf8.ValidString(masked))
}
