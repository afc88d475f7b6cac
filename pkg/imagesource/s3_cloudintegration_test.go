//go:build cloudintegration

package imagesource_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/goflash/pkg/imagesource"
	"github.com/3leaps/goflash/test/cloudtest"
)

func TestFetch_S3Integration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	hex := []byte(":100000000C9434000C943E000C943E000C943E0082\n:00000001FF\n")
	cloudtest.PutImage(t, ctx, bucket, "uno/blink.hex", hex)

	resolver := imagesource.NewResolver(imagesource.Options{
		S3:      cloudtest.S3Config(),
		TempDir: t.TempDir(),
	})

	img, err := resolver.Fetch(ctx, "s3://"+bucket+"/uno/blink.hex")
	require.NoError(t, err)

	data, err := os.ReadFile(img.Path)
	require.NoError(t, err)
	assert.Equal(t, hex, data)

	require.NoError(t, img.Close())
	assert.NoFileExists(t, img.Path)
}

func TestFetch_S3IntegrationMissingObject(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	resolver := imagesource.NewResolver(imagesource.Options{S3: cloudtest.S3Config(), TempDir: t.TempDir()})

	_, err := resolver.Fetch(ctx, "s3://"+bucket+"/missing.hex")
	require.Error(t, err)
	assert.True(t, imagesource.IsNotFound(err))
}
