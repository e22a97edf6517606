// azure.go — Store поверх Azure Blob Storage.
// Ссылки подписываются account SAS (rwlcd, container+object), допускающим HTTP и HTTPS.
package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

// Учётная запись эмулятора Azurite (UseDevelopmentStorage=true).
const (
	devStoreAccountName = "devstoreaccount1"
	devStoreAccountKey  = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	devStoreBlobURL     = "http://127.0.0.1:10000/devstoreaccount1"
)

// AzureStore — контейнер Azure Blob Storage.
type AzureStore struct {
	client    *azblob.Client
	cred      *azblob.SharedKeyCredential
	container string
	logger    *slog.Logger
}

// NewAzureStore создаёт Store из строки подключения Azure Storage.
// Строка должна содержать AccountKey: без него нельзя подписать account SAS.
func NewAzureStore(connectionString, container string, logger *slog.Logger) (*AzureStore, error) {
	cs, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	cred, err := azblob.NewSharedKeyCredential(cs.accountName, cs.accountKey)
	if err != nil {
		return nil, fmt.Errorf("создание shared key credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(cs.serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("создание клиента Azure Blob: %w", err)
	}

	return &AzureStore{
		client:    client,
		cred:      cred,
		container: container,
		logger:    logger.With(slog.String("component", "azure_store")),
	}, nil
}

// Backend возвращает "azure".
func (s *AzureStore) Backend() string {
	return "azure"
}

// Put загружает файл как block blob с заданными content-type и content-disposition.
func (s *AzureStore) Put(ctx context.Context, name string, file *os.File, size int64, props ObjectProperties) error {
	_, err := s.client.UploadFile(ctx, s.container, name, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType:        &props.ContentType,
			BlobContentDisposition: &props.ContentDisposition,
		},
	})
	if err != nil {
		return fmt.Errorf("загрузка blob %s (%d байт): %w", name, size, err)
	}
	return nil
}

// SignedURL возвращает URL blob с account SAS на ttl.
func (s *AzureStore) SignedURL(_ context.Context, name string, ttl time.Duration) (string, error) {
	perms := sas.AccountPermissions{Read: true, Write: true, List: true, Create: true, Delete: true}
	resources := sas.AccountResourceTypes{Container: true, Object: true}

	qp, err := sas.AccountSignatureValues{
		Protocol:      sas.ProtocolHTTPSandHTTP,
		ExpiryTime:    time.Now().UTC().Add(ttl),
		Permissions:   perms.String(),
		ResourceTypes: resources.String(),
	}.SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("подпись account SAS: %w", err)
	}

	blobURL := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(name).URL()
	return blobURL + "?" + qp.Encode(), nil
}

// connectionString — разобранная строка подключения Azure Storage.
type connectionString struct {
	accountName string
	accountKey  string
	serviceURL  string
}

// parseConnectionString разбирает строку вида
// DefaultEndpointsProtocol=https;AccountName=...;AccountKey=...;EndpointSuffix=core.windows.net
func parseConnectionString(s string) (*connectionString, error) {
	values := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("строка подключения Azure: некорректный элемент %q", part)
		}
		values[strings.ToLower(key)] = value
	}

	if strings.EqualFold(values["usedevelopmentstorage"], "true") {
		return &connectionString{
			accountName: devStoreAccountName,
			accountKey:  devStoreAccountKey,
			serviceURL:  devStoreBlobURL,
		}, nil
	}

	cs := &connectionString{
		accountName: values["accountname"],
		accountKey:  values["accountkey"],
	}
	if cs.accountName == "" {
		return nil, fmt.Errorf("строка подключения Azure: отсутствует AccountName")
	}
	if cs.accountKey == "" {
		return nil, fmt.Errorf("строка подключения Azure: отсутствует AccountKey")
	}

	if endpoint := values["blobendpoint"]; endpoint != "" {
		cs.serviceURL = strings.TrimRight(endpoint, "/")
		return cs, nil
	}

	protocol := values["defaultendpointsprotocol"]
	if protocol == "" {
		protocol = "https"
	}
	suffix := values["endpointsuffix"]
	if suffix == "" {
		suffix = "core.windows.net"
	}
	cs.serviceURL = fmt.Sprintf("%s://%s.blob.%s", protocol, cs.accountName, suffix)
	return cs, nil
}
