// Package dynamotest はテスト用のインメモリDynamoDBを提供します。
//
// expression パッケージが生成する単純な式 (キー条件の等価比較、SET/REMOVE、
// attribute_exists 条件) だけを解釈します。
package dynamotest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake はPK/SKの複合キーを持つテーブルをメモリ上で扱います。
type Fake struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// Err が設定されている場合、全ての操作がこのエラーを返します。
	Err error
	// PageSize が正の場合、Query は LastEvaluatedKey を使ってページ分割します。
	PageSize int
	// Calls は操作名ごとの呼び出し回数です。
	Calls map[string]int
}

// NewFake は指定したテーブルを作成済みの Fake を返します。
func NewFake(tables ...string) *Fake {
	f := &Fake{
		tables: make(map[string]map[string]map[string]types.AttributeValue),
		Calls:  make(map[string]int),
	}
	for _, name := range tables {
		f.tables[name] = make(map[string]map[string]types.AttributeValue)
	}
	return f
}

// Len はテーブル内のアイテム数を返します。
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// RawItem は保存されている属性をそのまま返します。
func (f *Fake) RawItem(table, pk, sk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyItem(f.tables[table][pk+"|"+sk])
}

func (f *Fake) begin(op, table string) (map[string]map[string]types.AttributeValue, error) {
	f.Calls[op]++
	if f.Err != nil {
		return nil, f.Err
	}
	t, ok := f.tables[table]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + table)}
	}
	return t, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func keyOf(item map[string]types.AttributeValue) string {
	return stringAttr(item, "PK") + "|" + stringAttr(item, "SK")
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// GetItem は dynamodb.Client.GetItem を模倣します。
func (f *Fake) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.begin("GetItem", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: copyItem(t[keyOf(in.Key)])}, nil
}

// PutItem は dynamodb.Client.PutItem を模倣します。
func (f *Fake) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.begin("PutItem", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	t[keyOf(in.Item)] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem は dynamodb.Client.DeleteItem を模倣します。
func (f *Fake) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.begin("DeleteItem", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	k := keyOf(in.Key)
	old, ok := t[k]
	delete(t, k)

	out := &dynamodb.DeleteItemOutput{}
	if ok && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

var keyConditionRe = regexp.MustCompile(`^\s*(#\w+)\s*=\s*(:\w+)\s*$`)

// Query はパーティションキーの等価条件だけをサポートします。結果はソートキー順です。
func (f *Fake) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.begin("Query", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}

	m := keyConditionRe.FindStringSubmatch(aws.ToString(in.KeyConditionExpression))
	if m == nil {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", aws.ToString(in.KeyConditionExpression))
	}
	attr := in.ExpressionAttributeNames[m[1]]
	val, ok := in.ExpressionAttributeValues[m[2]].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("dynamotest: key condition value %s must be a string", m[2])
	}

	var matched []map[string]types.AttributeValue
	for _, item := range t {
		if stringAttr(item, attr) == val.Value {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return stringAttr(matched[i], "SK") < stringAttr(matched[j], "SK")
	})

	start := 0
	if in.ExclusiveStartKey != nil {
		after := stringAttr(in.ExclusiveStartKey, "SK")
		for start < len(matched) && stringAttr(matched[start], "SK") <= after {
			start++
		}
	}
	end := len(matched)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}

	out := &dynamodb.QueryOutput{}
	for _, item := range matched[start:end] {
		out.Items = append(out.Items, copyItem(item))
	}
	out.Count = int32(len(out.Items))
	if end < len(matched) {
		last := matched[end-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	return out, nil
}

// UpdateItem は SET / REMOVE 句と attribute_exists 条件を解釈します。
func (f *Fake) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.begin("UpdateItem", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}

	k := keyOf(in.Key)
	item, exists := t[k]
	if strings.Contains(aws.ToString(in.ConditionExpression), "attribute_exists") && !exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	if !exists {
		item = copyItem(in.Key)
	} else {
		item = copyItem(item)
	}

	if err := applyUpdate(item, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	t[k] = item

	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(item)
	}
	return out, nil
}

func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	resolve := func(n string) string {
		if v, ok := names[n]; ok {
			return v
		}
		return n
	}

	// 句は "SET ..." や "REMOVE ..." の形で改行区切りで並ぶ
	for _, line := range strings.Split(expr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		keyword, rest, _ := strings.Cut(line, " ")
		switch strings.ToUpper(keyword) {
		case "SET":
			for _, action := range strings.Split(rest, ",") {
				lhs, rhs, ok := strings.Cut(action, "=")
				if !ok {
					return fmt.Errorf("dynamotest: unsupported SET action %q", action)
				}
				v, ok := values[strings.TrimSpace(rhs)]
				if !ok {
					return fmt.Errorf("dynamotest: missing value %s", strings.TrimSpace(rhs))
				}
				item[resolve(strings.TrimSpace(lhs))] = v
			}
		case "REMOVE":
			for _, name := range strings.Split(rest, ",") {
				delete(item, resolve(strings.TrimSpace(name)))
			}
		default:
			return fmt.Errorf("dynamotest: unsupported update clause %q", keyword)
		}
	}
	return nil
}

// DescribeTable はテーブルが存在すれば ACTIVE として返します。
func (f *Fake) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.begin("DescribeTable", aws.ToString(in.TableName))
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   in.TableName,
			TableStatus: types.TableStatusActive,
			ItemCount:   aws.Int64(int64(len(t))),
		},
	}, nil
}

// CreateTable はテーブルを作成します。既に存在する場合は ResourceInUseException を返します。
func (f *Fake) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["CreateTable"]++
	if f.Err != nil {
		return nil, f.Err
	}
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	f.tables[name] = make(map[string]map[string]types.AttributeValue)
	return &dynamodb.CreateTableOutput{
		TableDescription: &types.TableDescription{
			TableName:   in.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}
