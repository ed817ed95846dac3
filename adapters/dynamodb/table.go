// Package dynamodb implements tipstore.Table on Amazon DynamoDB.
//
// Every stream is a partition (key attribute p). The tip is the item with
// sort key i = tipstore.TipIndex, calves use their base index. Writes are
// conditional on the tip's n or etag attribute; calving writes the calves
// and the tip in a single TransactWriteItems call.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/codewandler/evstore/core/tipstore"
)

// API is the subset of the DynamoDB client the table uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type TableConfig struct {
	Client    API
	TableName string
	Log       *slog.Logger
}

type Table struct {
	client API
	name   *string
	log    *slog.Logger
}

// item is the stored form of a tipstore.Batch.
type item struct {
	Stream      string            `json:"p"`
	Index       uint64            `json:"i"`
	Base        uint64            `json:"bi"`
	N           uint64            `json:"n"`
	Etag        string            `json:"etag,omitempty"`
	Events      []tipstore.Event  `json:"e"`
	Unfolds     []tipstore.Unfold `json:"u,omitempty"`
	CalvedBytes int64             `json:"b,omitempty"`
}

func newItem(stream string, index uint64, b tipstore.Batch) item {
	return item{
		Stream:      stream,
		Index:       index,
		Base:        b.Base,
		N:           b.N,
		Etag:        b.Etag,
		Events:      b.Events,
		Unfolds:     b.Unfolds,
		CalvedBytes: b.CalvedBytes,
	}
}

func (it item) batch() tipstore.Batch {
	return tipstore.Batch{
		Base:        it.Base,
		N:           it.N,
		Etag:        it.Etag,
		Events:      it.Events,
		Unfolds:     it.Unfolds,
		CalvedBytes: it.CalvedBytes,
	}
}

func encodeOpts(o *attributevalue.EncoderOptions) { o.TagKey = "json" }
func decodeOpts(o *attributevalue.DecoderOptions) { o.TagKey = "json" }

func NewTable(cfg TableConfig) (*Table, error) {
	if cfg.Client == nil {
		return nil, errors.New("client is required")
	}
	if cfg.TableName == "" {
		return nil, errors.New("table name is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		client: cfg.Client,
		name:   aws.String(cfg.TableName),
		log:    log.With(slog.String("table", "dynamodb"), slog.String("name", cfg.TableName)),
	}, nil
}

func key(stream string, index uint64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"p": &types.AttributeValueMemberS{Value: stream},
		"i": number(index),
	}
}

func number[T uint64 | int64 | int](v T) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(v), 10)}
}

func (t *Table) ReadTip(ctx context.Context, stream string, consistent bool) (*tipstore.Batch, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      t.name,
		Key:            key(stream, tipstore.TipIndex),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, fmt.Errorf("get tip %s: %w", stream, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var it item
	if err := attributevalue.UnmarshalMapWithOptions(out.Item, &it, decodeOpts); err != nil {
		return nil, fmt.Errorf("decode tip %s: %w", stream, err)
	}
	tip := it.batch()
	return &tip, nil
}

// QueryBatches issues one Query. Limit bounds the items DynamoDB
// evaluates, so a page may hold fewer batches than Limit when MinN filters
// some out.
func (t *Table) QueryBatches(ctx context.Context, stream string, q tipstore.BatchQuery) (tipstore.BatchPage, error) {
	hi := min(q.Hi, tipstore.TipIndex)
	if q.Lo >= hi {
		return tipstore.BatchPage{}, nil
	}

	in := &dynamodb.QueryInput{
		TableName:              t.name,
		KeyConditionExpression: aws.String("p = :p AND i BETWEEN :lo AND :hi"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":  &types.AttributeValueMemberS{Value: stream},
			":lo": number(q.Lo),
			":hi": number(hi - 1),
		},
		ScanIndexForward: aws.Bool(!q.Backward),
		ConsistentRead:   aws.Bool(q.Consistent),
	}
	if q.MinN > 0 {
		in.FilterExpression = aws.String("n > :minN")
		in.ExpressionAttributeValues[":minN"] = number(q.MinN)
	}
	if q.Limit > 0 {
		in.Limit = aws.Int32(int32(q.Limit))
	}

	out, err := t.client.Query(ctx, in)
	if err != nil {
		return tipstore.BatchPage{}, fmt.Errorf("query %s: %w", stream, err)
	}

	var items []item
	if err := attributevalue.UnmarshalListOfMapsWithOptions(out.Items, &items, decodeOpts); err != nil {
		return tipstore.BatchPage{}, fmt.Errorf("decode batches %s: %w", stream, err)
	}
	page := tipstore.BatchPage{Batches: make([]tipstore.Batch, len(items))}
	for i, it := range items {
		page.Batches[i] = it.batch()
	}
	if out.LastEvaluatedKey != nil {
		var last item
		if err := attributevalue.UnmarshalMapWithOptions(out.LastEvaluatedKey, &last, decodeOpts); err != nil {
			return tipstore.BatchPage{}, fmt.Errorf("decode last key %s: %w", stream, err)
		}
		page.Next = &last.Index
	}
	return page, nil
}

func (t *Table) WriteTip(ctx context.Context, stream string, w tipstore.TipWrite) error {
	if len(w.Calves) == 0 {
		var err error
		if w.Appended != nil && w.Expected.Kind == tipstore.ExpectIndex {
			err = t.appendTip(ctx, stream, w)
		} else {
			err = t.putTip(ctx, stream, w)
		}
		return t.mapWriteErr(stream, err)
	}
	return t.mapWriteErr(stream, t.transact(ctx, stream, w))
}

// condition renders the precondition on the tip item.
func condition(p tipstore.Precondition) (string, map[string]types.AttributeValue) {
	switch p.Kind {
	case tipstore.ExpectNotExists:
		return "attribute_not_exists(p)", nil
	case tipstore.ExpectIndex:
		return "n = :expectN", map[string]types.AttributeValue{":expectN": number(p.Index)}
	default:
		return "etag = :expectEtag", map[string]types.AttributeValue{":expectEtag": &types.AttributeValueMemberS{Value: p.Etag}}
	}
}

func (t *Table) tipPut(stream string, w tipstore.TipWrite) (*types.Put, error) {
	av, err := attributevalue.MarshalMapWithOptions(newItem(stream, tipstore.TipIndex, w.Tip), encodeOpts)
	if err != nil {
		return nil, fmt.Errorf("encode tip: %w", err)
	}
	cond, values := condition(w.Expected)
	return &types.Put{
		TableName:                 t.name,
		Item:                      av,
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeValues: values,
	}, nil
}

func (t *Table) putTip(ctx context.Context, stream string, w tipstore.TipWrite) error {
	put, err := t.tipPut(stream, w)
	if err != nil {
		return err
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 put.TableName,
		Item:                      put.Item,
		ConditionExpression:       put.ConditionExpression,
		ExpressionAttributeValues: put.ExpressionAttributeValues,
	})
	return err
}

// appendTip appends w.Appended to the stored event list in place, so the
// request carries only the new events.
func (t *Table) appendTip(ctx context.Context, stream string, w tipstore.TipWrite) error {
	appended, err := attributevalue.MarshalWithOptions(w.Appended, encodeOpts)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	values := map[string]types.AttributeValue{
		":new":     appended,
		":empty":   &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		":n":       number(w.Tip.N),
		":base":    number(w.Tip.Base),
		":b":       number(w.Tip.CalvedBytes),
		":expectN": number(w.Expected.Index),
	}
	set := "SET e = list_append(if_not_exists(e, :empty), :new), n = :n, bi = :base, b = :b"
	var remove []string
	if w.Tip.Etag != "" {
		set += ", etag = :etag"
		values[":etag"] = &types.AttributeValueMemberS{Value: w.Tip.Etag}
	} else {
		remove = append(remove, "etag")
	}
	if len(w.Tip.Unfolds) > 0 {
		unfolds, err := attributevalue.MarshalWithOptions(w.Tip.Unfolds, encodeOpts)
		if err != nil {
			return fmt.Errorf("encode unfolds: %w", err)
		}
		set += ", u = :u"
		values[":u"] = unfolds
	} else {
		remove = append(remove, "u")
	}
	expr := set
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}

	_, err = t.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 t.name,
		Key:                       key(stream, tipstore.TipIndex),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("n = :expectN"),
		ExpressionAttributeValues: values,
	})
	return err
}

func (t *Table) transact(ctx context.Context, stream string, w tipstore.TipWrite) error {
	items := make([]types.TransactWriteItem, 0, len(w.Calves)+1)
	for _, c := range w.Calves {
		av, err := attributevalue.MarshalMapWithOptions(newItem(stream, c.Base, c), encodeOpts)
		if err != nil {
			return fmt.Errorf("encode calf %d: %w", c.Base, err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                 t.name,
			Item:                      av,
			ConditionExpression:       aws.String("attribute_not_exists(p) OR n = :calfN"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":calfN": number(c.N)},
		}})
	}
	put, err := t.tipPut(stream, w)
	if err != nil {
		return err
	}
	items = append(items, types.TransactWriteItem{Put: put})

	_, err = t.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}

// mapWriteErr turns failed conditions, including cancelled transactions,
// into tipstore.ErrConditionFailed.
func (t *Table) mapWriteErr(stream string, err error) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return tipstore.ErrConditionFailed
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			switch aws.ToString(r.Code) {
			case "ConditionalCheckFailed", "TransactionConflict":
				t.log.Debug("transaction cancelled", slog.String("stream", stream), slog.String("reason", aws.ToString(r.Code)))
				return tipstore.ErrConditionFailed
			}
		}
	}
	return fmt.Errorf("write tip %s: %w", stream, err)
}

var _ tipstore.Table = (*Table)(nil)
