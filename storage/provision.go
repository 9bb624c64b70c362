package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// Provision creates the given tables and queues, ignoring ones that already
// exist. Blank names are skipped.
func Provision(ctx context.Context, connStr string, tables, queues []string) error {
	if err := createTables(ctx, connStr, tables); err != nil {
		return err
	}
	return createQueues(ctx, connStr, queues)
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Info("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return err
		}
		log.WithField("queue", name).Info("queue ready")
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
