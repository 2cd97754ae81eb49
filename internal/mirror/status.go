package mirror

import (
	"errors"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"google.golang.org/api/googleapi"
)

// statusCode extracts the HTTP status from a provider SDK error
func statusCode(err error) (int, bool) {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode(), true
	}

	var azErr azblob.StorageError
	if errors.As(err, &azErr) && azErr.Response() != nil {
		return azErr.Response().StatusCode, true
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}
	return 0, false
}
