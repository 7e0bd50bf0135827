package polystore

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	ddbWaitTimeout  = 2 * time.Minute
	ddbPollInterval = 2 * time.Second
	ddbBatchLimit   = 25
)

// DynamoDBBackend maps collections onto DynamoDB tables keyed by
// (pk HASH, id RANGE). It is the one adapter with a real index
// catalogue: DescribeTable output is decoded into DBIndex entries,
// cached per collection, and fed to the planner, which decides between
// a key-condition Query and a filtered Scan. All filtering happens
// server-side in DynamoDB's expression language; an untranslatable
// filter is a BadRequest.
//
// Batch semantics: native BatchWriteItem in chunks of 25, unordered,
// no per-item conditions (conditional members are rejected), partial
// retry of unprocessed items.
// Transact semantics: native TransactWriteItems, all-or-nothing, any
// cancellation surfaced as a single Conflict.
type DynamoDBBackend struct {
	client      *dynamodb.Client
	processor   *ItemProcessor
	evaluator   *Evaluator
	catalog     *indexCatalog
	tablePrefix string
}

// NewDynamoDBBackend wraps an existing client.
func NewDynamoDBBackend(client *dynamodb.Client, processor *ItemProcessor, tablePrefix string) *DynamoDBBackend {
	return &DynamoDBBackend{
		client:      client,
		processor:   processor,
		evaluator:   NewEvaluator(processor),
		catalog:     newIndexCatalog(),
		tablePrefix: tablePrefix,
	}
}

// NewDynamoDBBackendFromConfig dials a client from config. A non-empty
// endpoint targets DynamoDB Local with static throwaway credentials.
func NewDynamoDBBackendFromConfig(ctx context.Context, cfg DynamoDBConfig, processor *ItemProcessor) (*DynamoDBBackend, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"backend": "dynamodb",
			"error":   err.Error(),
		})
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoDBBackend(client, processor, cfg.TablePrefix), nil
}

func (b *DynamoDBBackend) Name() string { return "dynamodb" }

func (b *DynamoDBBackend) table(collection string) string {
	return b.tablePrefix + collection
}

func ddbErr(err error, op string) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return WithContext(ErrBadRequest, map[string]interface{}{
			"backend": "dynamodb",
			"op":      op,
			"reason":  "collection does not exist",
		})
	}
	return WithContext(ErrBackendUnavailable, map[string]interface{}{
		"backend": "dynamodb",
		"op":      op,
		"error":   err.Error(),
	})
}

// conditionFailure maps a ConditionalCheckFailedException through the
// decision table. The request carries ReturnValuesOnConditionCheckFailure
// ALL_OLD, so a populated Item on the exception means the item existed
// when the condition was evaluated.
func conditionFailure(err error, op *CompiledOp) (error, bool) {
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return nil, false
	}
	return op.FailureFor(len(ccf.Item) > 0), true
}

func (b *DynamoDBBackend) marshalKey(op *CompiledOp) (map[string]types.AttributeValue, error) {
	dbKey, err := attributevalue.MarshalMap(b.processor.KeyFromKey(op.Key))
	if err != nil {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "key not representable",
			"error":  err.Error(),
		})
	}
	return dbKey, nil
}

func (b *DynamoDBBackend) unmarshalDoc(av map[string]types.AttributeValue) (Document, error) {
	var doc Document
	if err := attributevalue.UnmarshalMap(av, &doc); err != nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{
			"backend": "dynamodb",
			"reason":  "undecodable item",
			"error":   err.Error(),
		})
	}
	return doc, nil
}

func (b *DynamoDBBackend) item(value Document) *Item {
	return &Item{
		Key:   b.processor.KeyFromValue(value),
		Value: b.processor.SuppressFieldsIfNeeded(value),
		Etag:  b.processor.EtagFromValue(value),
	}
}

func (b *DynamoDBBackend) Get(ctx context.Context, op *CompiledOp) (*Item, error) {
	dbKey, err := b.marshalKey(op)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.table(op.Collection)),
		Key:       dbKey,
	})
	if err != nil {
		return nil, ddbErr(err, "get")
	}
	if len(out.Item) == 0 {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"collection": op.Collection,
			"id":         op.Key.ID,
		})
	}
	doc, err := b.unmarshalDoc(out.Item)
	if err != nil {
		return nil, err
	}
	return b.item(doc), nil
}

// putCondition renders the existence contract of a put. Nil expression
// means unconditional.
func (b *DynamoDBBackend) putCondition(op *CompiledOp, t *ddbExpr) (*string, error) {
	idField := t.field(AttrID)
	switch {
	case op.MustNotExist:
		return aws.String("attribute_not_exists(" + idField + ")"), nil
	case op.Where != nil:
		where, err := t.expr(op.Where)
		if err != nil {
			return nil, err
		}
		return aws.String("attribute_exists(" + idField + ") AND " + where), nil
	case op.MustExist:
		return aws.String("attribute_exists(" + idField + ")"), nil
	}
	return nil, nil
}

func (b *DynamoDBBackend) Put(ctx context.Context, op *CompiledOp) (*Item, error) {
	item, err := attributevalue.MarshalMap(op.Value)
	if err != nil {
		return nil, WithContext(ErrBadRequest, map[string]interface{}{
			"reason": "value not representable",
			"error":  err.Error(),
		})
	}
	t := newDDBExpr(b.processor)
	condition, err := b.putCondition(op, t)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.PutItemInput{
		TableName:                           aws.String(b.table(op.Collection)),
		Item:                                item,
		ConditionExpression:                 condition,
		ExpressionAttributeNames:            t.Names(),
		ExpressionAttributeValues:           t.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if op.Returning == ReturningOld {
		input.ReturnValues = types.ReturnValueAllOld
	}
	out, err := b.client.PutItem(ctx, input)
	if err != nil {
		if failure, ok := conditionFailure(err, op); ok {
			return nil, failure
		}
		return nil, ddbErr(err, "put")
	}
	if op.Returning == ReturningOld {
		old := Document{}
		if len(out.Attributes) > 0 {
			if old, err = b.unmarshalDoc(out.Attributes); err != nil {
				return nil, err
			}
		}
		return b.item(old), nil
	}
	result := b.item(op.Value)
	if op.Returning != ReturningNew {
		result.Value = nil
	}
	return result, nil
}

func (b *DynamoDBBackend) updateInput(op *CompiledOp) (*dynamodb.UpdateItemInput, error) {
	dbKey, err := b.marshalKey(op)
	if err != nil {
		return nil, err
	}
	t := newDDBExpr(b.processor)
	updateExpr, err := t.updateExpression(op.Set)
	if err != nil {
		return nil, err
	}
	// An unconditional UpdateItem upserts, so absent items need the
	// existence guard even without a caller condition.
	condition := "attribute_exists(" + t.field(AttrID) + ")"
	if op.Where != nil {
		where, err := t.expr(op.Where)
		if err != nil {
			return nil, err
		}
		condition = where
	}
	return &dynamodb.UpdateItemInput{
		TableName:                           aws.String(b.table(op.Collection)),
		Key:                                 dbKey,
		UpdateExpression:                    aws.String(updateExpr),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            t.Names(),
		ExpressionAttributeValues:           t.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}, nil
}

func (b *DynamoDBBackend) Update(ctx context.Context, op *CompiledOp) (*Item, error) {
	input, err := b.updateInput(op)
	if err != nil {
		return nil, err
	}
	switch op.Returning {
	case ReturningOld:
		input.ReturnValues = types.ReturnValueAllOld
	case ReturningNew:
		input.ReturnValues = types.ReturnValueAllNew
	}
	out, err := b.client.UpdateItem(ctx, input)
	if err != nil {
		if failure, ok := conditionFailure(err, op); ok {
			return nil, failure
		}
		return nil, ddbErr(err, "update")
	}
	if len(out.Attributes) > 0 {
		doc, err := b.unmarshalDoc(out.Attributes)
		if err != nil {
			return nil, err
		}
		return b.item(doc), nil
	}
	return &Item{Key: op.Key, Etag: op.Etag}, nil
}

func (b *DynamoDBBackend) deleteInput(op *CompiledOp) (*dynamodb.DeleteItemInput, error) {
	dbKey, err := b.marshalKey(op)
	if err != nil {
		return nil, err
	}
	t := newDDBExpr(b.processor)
	condition := "attribute_exists(" + t.field(AttrID) + ")"
	if op.Where != nil {
		where, err := t.expr(op.Where)
		if err != nil {
			return nil, err
		}
		condition = where
	}
	return &dynamodb.DeleteItemInput{
		TableName:                           aws.String(b.table(op.Collection)),
		Key:                                 dbKey,
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            t.Names(),
		ExpressionAttributeValues:           t.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}, nil
}

func (b *DynamoDBBackend) Delete(ctx context.Context, op *CompiledOp) error {
	input, err := b.deleteInput(op)
	if err != nil {
		return err
	}
	if _, err := b.client.DeleteItem(ctx, input); err != nil {
		if failure, ok := conditionFailure(err, op); ok {
			return failure
		}
		return ddbErr(err, "delete")
	}
	return nil
}

func (b *DynamoDBBackend) planner(ctx context.Context, collection string) (*Planner, error) {
	indexes, err := b.catalog.Get(collection, func() ([]*DBIndex, error) {
		return b.describeIndexes(ctx, collection)
	})
	if err != nil {
		return nil, err
	}
	return NewPlanner(b.processor, indexes), nil
}

// ddbQueryInputs renders a plan into either a Query or a Scan input.
func (b *DynamoDBBackend) ddbQueryInputs(collection string, plan *QueryPlan, orderBy *OrderBy) (*dynamodb.QueryInput, *dynamodb.ScanInput, error) {
	t := newDDBExpr(b.processor)
	table := aws.String(b.table(collection))

	if plan.Action == PlanQuery {
		keyCondition, err := t.expr(plan.KeyCondition)
		if err != nil {
			return nil, nil, err
		}
		input := &dynamodb.QueryInput{
			TableName:              table,
			KeyConditionExpression: aws.String(keyCondition),
		}
		if plan.ResidualFilter != nil {
			filter, err := t.expr(plan.ResidualFilter)
			if err != nil {
				return nil, nil, err
			}
			input.FilterExpression = aws.String(filter)
		}
		if plan.Index.Name != MainIndexName {
			input.IndexName = aws.String(plan.Index.Name)
		}
		if orderBy != nil && len(orderBy.Terms) > 0 {
			input.ScanIndexForward = aws.Bool(orderBy.Terms[0].Direction != Desc)
		}
		input.ExpressionAttributeNames = t.Names()
		input.ExpressionAttributeValues = t.Values()
		return input, nil, nil
	}

	input := &dynamodb.ScanInput{TableName: table}
	if plan.ResidualFilter != nil {
		filter, err := t.expr(plan.ResidualFilter)
		if err != nil {
			return nil, nil, err
		}
		input.FilterExpression = aws.String(filter)
	}
	input.ExpressionAttributeNames = t.Names()
	input.ExpressionAttributeValues = t.Values()
	return nil, input, nil
}

func (b *DynamoDBBackend) fetch(ctx context.Context, queryInput *dynamodb.QueryInput, scanInput *dynamodb.ScanInput) ([]Document, error) {
	var items []Document
	collect := func(page []map[string]types.AttributeValue) error {
		for _, av := range page {
			doc, err := b.unmarshalDoc(av)
			if err != nil {
				return err
			}
			items = append(items, doc)
		}
		return nil
	}

	if queryInput != nil {
		paginator := dynamodb.NewQueryPaginator(b.client, queryInput)
		for paginator.HasMorePages() {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, ddbErr(err, "query")
			}
			if err := collect(out.Items); err != nil {
				return nil, err
			}
		}
		return items, nil
	}
	paginator := dynamodb.NewScanPaginator(b.client, scanInput)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, ddbErr(err, "query")
		}
		if err := collect(out.Items); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (b *DynamoDBBackend) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	planner, err := b.planner(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	plan, err := planner.Plan(req.Where, req.OrderBy, req.Select, req.IndexName)
	if err != nil {
		return nil, err
	}
	queryInput, scanInput, err := b.ddbQueryInputs(req.Collection, plan, req.OrderBy)
	if err != nil {
		return nil, err
	}
	items, err := b.fetch(ctx, queryInput, scanInput)
	if err != nil {
		return nil, err
	}
	// A Query returns range-key order from the engine; a Scan does not,
	// so ordering is applied here.
	if plan.Action == PlanScan && req.OrderBy != nil {
		if items, err = b.evaluator.OrderItems(items, req.OrderBy); err != nil {
			return nil, err
		}
	}
	items = sliceWindow(items, req.Limit, req.Offset)
	if items, err = b.evaluator.ProjectItems(items, req.Select); err != nil {
		return nil, err
	}
	result := &QueryResult{Items: make([]Item, 0, len(items))}
	for _, value := range items {
		result.Items = append(result.Items, *b.item(value))
	}
	return result, nil
}

func sliceWindow(items []Document, limit, offset int) []Document {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (b *DynamoDBBackend) Count(ctx context.Context, req CountRequest) (int, error) {
	planner, err := b.planner(ctx, req.Collection)
	if err != nil {
		return 0, err
	}
	plan, err := planner.Plan(req.Where, nil, nil, "")
	if err != nil {
		return 0, err
	}
	queryInput, scanInput, err := b.ddbQueryInputs(req.Collection, plan, nil)
	if err != nil {
		return 0, err
	}

	count := 0
	if queryInput != nil {
		queryInput.Select = types.SelectCount
		paginator := dynamodb.NewQueryPaginator(b.client, queryInput)
		for paginator.HasMorePages() {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				return 0, ddbErr(err, "count")
			}
			count += int(out.Count)
		}
		return count, nil
	}
	scanInput.Select = types.SelectCount
	paginator := dynamodb.NewScanPaginator(b.client, scanInput)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, ddbErr(err, "count")
		}
		count += int(out.Count)
	}
	return count, nil
}

// Batch writes through BatchWriteItem. Per-item conditions have no
// native form here; conditional members are rejected up front.
func (b *DynamoDBBackend) Batch(ctx context.Context, ops []*CompiledOp) error {
	table := b.table(ops[0].Collection)
	requests := make([]types.WriteRequest, 0, len(ops))
	for i, op := range ops {
		if op.MustExist || op.MustNotExist || op.Where != nil {
			return WithContext(ErrBadRequest, map[string]interface{}{
				"reason": "conditional operations not supported in dynamodb batch",
				"index":  i,
			})
		}
		switch op.Kind {
		case OpPut:
			item, err := attributevalue.MarshalMap(op.Value)
			if err != nil {
				return WithContext(ErrBadRequest, map[string]interface{}{
					"reason": "value not representable",
					"index":  i,
				})
			}
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		case OpDelete:
			dbKey, err := b.marshalKey(op)
			if err != nil {
				return err
			}
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: dbKey},
			})
		}
	}

	for start := 0; start < len(requests); start += ddbBatchLimit {
		end := start + ddbBatchLimit
		if end > len(requests) {
			end = len(requests)
		}
		if err := b.writeBatch(ctx, table, requests[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (b *DynamoDBBackend) writeBatch(ctx context.Context, table string, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{table: requests}
	for attempt := 0; len(pending[table]) > 0; attempt++ {
		if attempt >= 5 {
			return WithContext(ErrBackendUnavailable, map[string]interface{}{
				"backend": "dynamodb",
				"reason":  "unprocessed batch items after retries",
			})
		}
		out, err := b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return ddbErr(err, "batch")
		}
		pending = out.UnprocessedItems
	}
	return nil
}

func (b *DynamoDBBackend) Transact(ctx context.Context, ops []*CompiledOp) ([]*Item, error) {
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		table := aws.String(b.table(op.Collection))
		t := newDDBExpr(b.processor)
		switch op.Kind {
		case OpPut:
			value, err := attributevalue.MarshalMap(op.Value)
			if err != nil {
				return nil, WithContext(ErrBadRequest, map[string]interface{}{
					"reason": "value not representable",
				})
			}
			condition, err := b.putCondition(op, t)
			if err != nil {
				return nil, err
			}
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:                 table,
				Item:                      value,
				ConditionExpression:       condition,
				ExpressionAttributeNames:  t.Names(),
				ExpressionAttributeValues: t.Values(),
			}})
		case OpUpdate:
			input, err := b.updateInput(op)
			if err != nil {
				return nil, err
			}
			items = append(items, types.TransactWriteItem{Update: &types.Update{
				TableName:                 table,
				Key:                       input.Key,
				UpdateExpression:          input.UpdateExpression,
				ConditionExpression:       input.ConditionExpression,
				ExpressionAttributeNames:  input.ExpressionAttributeNames,
				ExpressionAttributeValues: input.ExpressionAttributeValues,
			}})
		case OpDelete:
			input, err := b.deleteInput(op)
			if err != nil {
				return nil, err
			}
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName:                 table,
				Key:                       input.Key,
				ConditionExpression:       input.ConditionExpression,
				ExpressionAttributeNames:  input.ExpressionAttributeNames,
				ExpressionAttributeValues: input.ExpressionAttributeValues,
			}})
		}
	}

	if _, err := b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return nil, ErrConflict
		}
		return nil, ddbErr(err, "transact")
	}

	// TransactWriteItems returns no item data, so slots are built from
	// what was sent: puts from the written value, updates as key plus
	// the rotated etag, deletes nil.
	results := make([]*Item, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case OpPut:
			item := b.item(op.Value)
			if op.Returning != ReturningNew {
				item.Value = nil
			}
			results[i] = item
		case OpUpdate:
			results[i] = &Item{Key: op.Key, Etag: op.Etag}
		}
	}
	return results, nil
}

func ddbAttributeType(fieldType string) types.ScalarAttributeType {
	if fieldType == "number" {
		return types.ScalarAttributeTypeN
	}
	return types.ScalarAttributeTypeS
}

func (b *DynamoDBBackend) CreateCollection(ctx context.Context, collection string, cfg CollectionConfig, exists *bool) (*CollectionResult, error) {
	table := b.table(collection)
	pkField := cfg.PKField
	if pkField == "" {
		pkField = b.processor.PKEmbedField
	}
	idField := cfg.IDField
	if idField == "" {
		idField = b.processor.IDEmbedField
	}

	status := CollectionStatusCreated
	_, err := b.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(pkField), AttributeType: ddbAttributeType(cfg.PKType)},
			{AttributeName: aws.String(idField), AttributeType: ddbAttributeType(cfg.IDType)},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(pkField), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(idField), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return nil, ddbErr(err, "create_collection")
		}
		if exists != nil && !*exists {
			return nil, WithContext(ErrConflict, map[string]interface{}{
				"collection": collection,
			})
		}
		status = CollectionStatusExists
	} else {
		waiter := dynamodb.NewTableExistsWaiter(b.client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table),
		}, ddbWaitTimeout); err != nil {
			return nil, ddbErr(err, "create_collection")
		}
	}
	b.catalog.Invalidate(collection)

	result := &CollectionResult{Status: status}
	for _, index := range cfg.Indexes {
		ir, err := b.CreateIndex(ctx, collection, index, nil)
		if err != nil {
			return nil, err
		}
		result.Indexes = append(result.Indexes, *ir)
	}
	return result, nil
}

func (b *DynamoDBBackend) DropCollection(ctx context.Context, collection string, exists *bool) (*CollectionResult, error) {
	table := b.table(collection)
	_, err := b.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			if exists != nil && *exists {
				return nil, WithContext(ErrNotFound, map[string]interface{}{
					"collection": collection,
				})
			}
			return &CollectionResult{Status: CollectionStatusNotExists}, nil
		}
		return nil, ddbErr(err, "drop_collection")
	}
	waiter := dynamodb.NewTableNotExistsWaiter(b.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, ddbWaitTimeout); err != nil {
		return nil, ddbErr(err, "drop_collection")
	}
	b.catalog.Invalidate(collection)
	return &CollectionResult{Status: CollectionStatusDropped}, nil
}

func (b *DynamoDBBackend) HasCollection(ctx context.Context, collection string) (bool, error) {
	_, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(b.table(collection)),
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return false, nil
		}
		return false, ddbErr(err, "has_collection")
	}
	return true, nil
}

// gsiSpec extracts the (name, key schema, attribute definitions) of an
// abstract index that can become a global secondary index: a single
// hash field, or a two-field composite of scalar kinds. Nested paths
// cannot be DynamoDB key attributes.
func gsiSpec(index Index) (string, []types.KeySchemaElement, []types.AttributeDefinition, bool) {
	scalarKind := func(idx Index) bool {
		switch idx.Kind() {
		case IndexHash, IndexRange, IndexAsc, IndexDesc, IndexField:
			return true
		}
		return false
	}
	topLevel := func(field string) bool {
		segs := parsePath(field)
		return len(segs) == 1 && !segs[0].isIndex
	}
	fieldType := func(idx Index) string {
		return metaFromIndex(idx).FieldType
	}

	switch idx := index.(type) {
	case CompositeIndex:
		if len(idx.Fields) != 2 {
			return "", nil, nil, false
		}
		var schema []types.KeySchemaElement
		var attrs []types.AttributeDefinition
		for i, f := range idx.Fields {
			if !scalarKind(f) || !topLevel(f.IndexField()) {
				return "", nil, nil, false
			}
			keyType := types.KeyTypeHash
			if i == 1 {
				keyType = types.KeyTypeRange
			}
			schema = append(schema, types.KeySchemaElement{
				AttributeName: aws.String(f.IndexField()),
				KeyType:       keyType,
			})
			attrs = append(attrs, types.AttributeDefinition{
				AttributeName: aws.String(f.IndexField()),
				AttributeType: ddbAttributeType(fieldType(f)),
			})
		}
		return EncodeIndexName(index, ""), schema, attrs, true
	case HashIndex:
		if !topLevel(idx.IndexField()) {
			return "", nil, nil, false
		}
		return EncodeIndexName(index, ""),
			[]types.KeySchemaElement{{
				AttributeName: aws.String(idx.IndexField()),
				KeyType:       types.KeyTypeHash,
			}},
			[]types.AttributeDefinition{{
				AttributeName: aws.String(idx.IndexField()),
				AttributeType: ddbAttributeType(idx.FieldType),
			}},
			true
	}
	return "", nil, nil, false
}

func (b *DynamoDBBackend) CreateIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	existing, err := b.ListIndexes(ctx, collection)
	if err != nil {
		return nil, err
	}
	status, match := CheckIndexStatus(existing, index)
	if status == IndexStatusExists && exists != nil && !*exists {
		return nil, WithContext(ErrConflict, map[string]interface{}{
			"collection": collection,
			"index":      EncodeIndexName(index, ""),
		})
	}
	if status != IndexStatusNotExists {
		return &IndexResult{Status: status, Index: match}, nil
	}
	table := b.table(collection)

	if index.Kind() == IndexTTL {
		_, err := b.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: aws.String(table),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				Enabled:       aws.Bool(true),
				AttributeName: aws.String(index.IndexField()),
			},
		})
		if err != nil {
			return nil, ddbErr(err, "create_index")
		}
		return &IndexResult{Status: IndexStatusCreated}, nil
	}

	name, schema, attrs, ok := gsiSpec(index)
	if !ok {
		return &IndexResult{Status: IndexStatusNotSupported}, nil
	}
	_, err = b.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName:            aws.String(table),
		AttributeDefinitions: attrs,
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName:  aws.String(name),
				KeySchema:  schema,
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		}},
	})
	if err != nil {
		return nil, ddbErr(err, "create_index")
	}
	if err := b.waitForIndexes(ctx, table); err != nil {
		return nil, err
	}
	b.catalog.Invalidate(collection)
	return &IndexResult{Status: IndexStatusCreated}, nil
}

func (b *DynamoDBBackend) DropIndex(ctx context.Context, collection string, index Index, exists *bool) (*IndexResult, error) {
	table := b.table(collection)
	if index.Kind() == IndexTTL {
		_, err := b.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: aws.String(table),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				Enabled:       aws.Bool(false),
				AttributeName: aws.String(index.IndexField()),
			},
		})
		if err != nil {
			return nil, ddbErr(err, "drop_index")
		}
		return &IndexResult{Status: IndexStatusDropped}, nil
	}

	_, err := b.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String(table),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Delete: &types.DeleteGlobalSecondaryIndexAction{
				IndexName: aws.String(EncodeIndexName(index, "")),
			},
		}},
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			if exists != nil && *exists {
				return nil, WithContext(ErrNotFound, map[string]interface{}{
					"collection": collection,
					"index":      EncodeIndexName(index, ""),
				})
			}
			return &IndexResult{Status: IndexStatusNotExists}, nil
		}
		return nil, ddbErr(err, "drop_index")
	}
	if err := b.waitForIndexes(ctx, table); err != nil {
		return nil, err
	}
	b.catalog.Invalidate(collection)
	return &IndexResult{Status: IndexStatusDropped}, nil
}

// waitForIndexes polls until every global secondary index on the table
// is ACTIVE. There is no SDK waiter for GSI state.
func (b *DynamoDBBackend) waitForIndexes(ctx context.Context, table string) error {
	deadline := time.Now().Add(ddbWaitTimeout)
	for {
		out, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table),
		})
		if err != nil {
			return ddbErr(err, "create_index")
		}
		settled := true
		for _, gsi := range out.Table.GlobalSecondaryIndexes {
			if gsi.IndexStatus != types.IndexStatusActive {
				settled = false
				break
			}
		}
		if settled {
			return nil
		}
		if time.Now().After(deadline) {
			return WithContext(ErrBackendUnavailable, map[string]interface{}{
				"backend": "dynamodb",
				"reason":  "index did not become active",
			})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ddbPollInterval):
		}
	}
}

// describeIndexes builds the planner catalogue from DescribeTable:
// the main index first, then locals and globals with their projections.
func (b *DynamoDBBackend) describeIndexes(ctx context.Context, collection string) ([]*DBIndex, error) {
	out, err := b.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(b.table(collection)),
	})
	if err != nil {
		return nil, ddbErr(err, "describe_table")
	}
	table := out.Table

	attrTypes := map[string]string{}
	for _, def := range table.AttributeDefinitions {
		attrTypes[aws.ToString(def.AttributeName)] = string(def.AttributeType)
	}
	keysOf := func(schema []types.KeySchemaElement) (string, string) {
		hash, rng := "", ""
		for _, elem := range schema {
			switch elem.KeyType {
			case types.KeyTypeHash:
				hash = aws.ToString(elem.AttributeName)
			case types.KeyTypeRange:
				rng = aws.ToString(elem.AttributeName)
			}
		}
		return hash, rng
	}

	hash, rng := keysOf(table.KeySchema)
	main := MainDBIndex(hash, rng)
	main.HashKeyType = attrTypes[hash]
	main.RangeKeyType = attrTypes[rng]
	indexes := []*DBIndex{main}

	appendIndex := func(name string, category IndexCategory, schema []types.KeySchemaElement, projection *types.Projection) {
		h, r := keysOf(schema)
		idx := &DBIndex{
			Name:         name,
			Category:     category,
			HashKey:      h,
			HashKeyType:  attrTypes[h],
			RangeKey:     r,
			RangeKeyType: attrTypes[r],
		}
		if projection != nil {
			idx.ProjectionType = string(projection.ProjectionType)
			for _, attr := range projection.NonKeyAttributes {
				idx.ProjectionFields = append(idx.ProjectionFields, attr)
			}
		}
		indexes = append(indexes, idx)
	}
	for _, lsi := range table.LocalSecondaryIndexes {
		appendIndex(aws.ToString(lsi.IndexName), IndexCategoryLocal, lsi.KeySchema, lsi.Projection)
	}
	for _, gsi := range table.GlobalSecondaryIndexes {
		appendIndex(aws.ToString(gsi.IndexName), IndexCategoryGlobal, gsi.KeySchema, gsi.Projection)
	}
	return indexes, nil
}

// ListIndexes reconstructs abstract declarations from the native
// catalogue. Kinds come from decoding the index name; an index created
// outside the codec degrades to hash/range by key role. The TTL
// attribute, which DynamoDB tracks separately, is reported as a
// TTLIndex.
func (b *DynamoDBBackend) ListIndexes(ctx context.Context, collection string) ([]Index, error) {
	dbIndexes, err := b.describeIndexes(ctx, collection)
	if err != nil {
		return nil, err
	}

	var indexes []Index
	for _, dbIndex := range dbIndexes[1:] {
		indexes = append(indexes, ddbAbstractIndex(dbIndex))
	}

	ttl, err := b.client.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{
		TableName: aws.String(b.table(collection)),
	})
	if err != nil {
		return nil, ddbErr(err, "list_indexes")
	}
	if desc := ttl.TimeToLiveDescription; desc != nil && desc.AttributeName != nil {
		indexes = append(indexes, TTLIndex{singleIndex{Field: aws.ToString(desc.AttributeName)}})
	}
	return indexes, nil
}

func ddbFieldType(attrType string) string {
	if attrType == string(types.ScalarAttributeTypeN) {
		return "number"
	}
	return "string"
}

func ddbAbstractIndex(dbIndex *DBIndex) Index {
	member := func(field, attrType string, kind IndexKind, fallback IndexKind) Index {
		if kind == "" {
			kind = fallback
		}
		return indexMeta{Kind: kind, Field: field, FieldType: ddbFieldType(attrType)}.toIndex()
	}

	if dbIndex.RangeKey == "" {
		return indexMeta{
			Kind:      firstKind(DecodeIndexKind(dbIndex.Name), IndexHash),
			Name:      dbIndex.Name,
			Field:     dbIndex.HashKey,
			FieldType: ddbFieldType(dbIndex.HashKeyType),
		}.toIndex()
	}

	kinds := DecodeCompositeKinds(dbIndex.Name)
	if len(kinds) < 2 {
		kinds = []IndexKind{"", ""}
	}
	return CompositeIndex{
		Name: dbIndex.Name,
		Fields: []Index{
			member(dbIndex.HashKey, dbIndex.HashKeyType, kinds[0], IndexHash),
			member(dbIndex.RangeKey, dbIndex.RangeKeyType, kinds[1], IndexRange),
		},
	}
}

func firstKind(kind, fallback IndexKind) IndexKind {
	if kind != "" {
		return kind
	}
	return fallback
}

func (b *DynamoDBBackend) Ping(ctx context.Context) error {
	if _, err := b.client.ListTables(ctx, &dynamodb.ListTablesInput{
		Limit: aws.Int32(1),
	}); err != nil {
		return ddbErr(err, "ping")
	}
	return nil
}

func (b *DynamoDBBackend) Close() error {
	b.catalog.InvalidateAll()
	return nil
}
