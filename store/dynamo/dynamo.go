package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/store"
)

// DynamoArtStore is a single-table store for projects and collaboration sessions.
//
// Item layout:
//
//	PROJECT#<projectId> / PROJECT         project document (read-only here)
//	PROJECT#<projectId> / ACTIVE_SESSION  pointer to the project's active session
//	SESSION#<sessionId> / SESSION         session record, active users keyed by connection id
type DynamoArtStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoArtStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoArtStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoArtStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoArtStore) GetProject(ctx context.Context, projectId string) (models.Project, error) {
	dp, err := getItem[dynamoProject](dynamoStore, ctx, projectKey(projectId), projectSK, false)
	if err != nil {
		return models.Project{}, err
	}
	return projectFromDynamo(dp), nil
}

func (dynamoStore *DynamoArtStore) FindActiveSession(ctx context.Context, projectId string) (models.Session, error) {
	pointer, err := getItem[dynamoActiveSession](dynamoStore, ctx, projectKey(projectId), activeSessionSK, true)
	if err != nil {
		return models.Session{}, err
	}

	ds, err := getItem[dynamoSession](dynamoStore, ctx, sessionKey(pointer.SessionId), sessionSK, true)
	if err != nil {
		return models.Session{}, err
	}

	return sessionFromDynamo(ds), nil
}

func (dynamoStore *DynamoArtStore) CreateSession(ctx context.Context, projectId string, member models.ActiveUser) (models.Session, bool, error) {
	sessionUUID, err := uuid.NewV7()
	if err != nil {
		return models.Session{}, false, err
	}

	startedAt := member.JoinedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	session := models.Session{
		Id:          sessionUUID.String(),
		ProjectId:   projectId,
		ActiveUsers: []models.ActiveUser{member},
		IsActive:    true,
		StartedAt:   startedAt,
	}

	pointerPut, err := putIfAbsent(dynamoStore.tableName, dynamoActiveSession{
		PK:        projectKey(projectId),
		SK:        activeSessionSK,
		SessionId: session.Id,
	})
	if err != nil {
		return models.Session{}, false, err
	}
	sessionPut, err := putIfAbsent(dynamoStore.tableName, sessionToDynamo(session))
	if err != nil {
		return models.Session{}, false, err
	}

	_, err = dynamoStore.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{pointerPut, sessionPut},
	})
	if err != nil {
		if isTransactionConditionFailed(err) {
			// Another joiner won the race: converge on its session
			existing, findErr := dynamoStore.FindActiveSession(ctx, projectId)
			if findErr != nil {
				return models.Session{}, false, fmt.Errorf("session exists but could not be read: %w", findErr)
			}
			return existing, false, nil
		}
		return models.Session{}, false, fmt.Errorf("create session failed: %w", err)
	}

	return session, true, nil
}

func (dynamoStore *DynamoArtStore) AppendMember(ctx context.Context, sessionId string, member models.ActiveUser) error {
	memberAV, err := attributevalue.MarshalMap(activeUserToDynamo(member))
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Key:                 itemKey(sessionKey(sessionId), sessionSK),
		UpdateExpression:    aws.String("SET ActiveUsers.#cid = :member"),
		ConditionExpression: aws.String("attribute_exists(PK) AND IsActive = :true AND attribute_not_exists(ActiveUsers.#cid)"),
		ExpressionAttributeNames: map[string]string{
			"#cid": member.ConnectionId,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":member": &types.AttributeValueMemberM{Value: memberAV},
			":true":   &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err == nil {
		return nil
	}
	if !isConditionalCheckFailed(err) {
		return fmt.Errorf("append member failed: %w", err)
	}

	// Could be a missing session, an ended session or a member that is already present
	ds, getErr := getItem[dynamoSession](dynamoStore, ctx, sessionKey(sessionId), sessionSK, true)
	if getErr != nil {
		return getErr
	}
	if !ds.IsActive {
		return store.ErrConditionFailed
	}
	return nil
}

func (dynamoStore *DynamoArtStore) RemoveMember(ctx context.Context, sessionId string, connectionId string) error {
	_, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Key:                 itemKey(sessionKey(sessionId), sessionSK),
		UpdateExpression:    aws.String("REMOVE ActiveUsers.#cid"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#cid": connectionId,
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return store.ErrItemNotFound
		}
		return fmt.Errorf("remove member failed: %w", err)
	}
	return nil
}

// Deactivate marks the session ended and releases the project's active-session pointer in
// one transaction. Deactivating an already ended session returns ErrConditionFailed.
func (dynamoStore *DynamoArtStore) Deactivate(ctx context.Context, sessionId string, endedAt time.Time) error {
	session, err := getItem[dynamoSession](dynamoStore, ctx, sessionKey(sessionId), sessionSK, true)
	if err != nil {
		return err
	}

	_, err = dynamoStore.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           aws.String(dynamoStore.tableName),
					Key:                 itemKey(sessionKey(sessionId), sessionSK),
					UpdateExpression:    aws.String("SET IsActive = :false, EndedAt = :endedAt"),
					ConditionExpression: aws.String("IsActive = :true"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":false":   &types.AttributeValueMemberBOOL{Value: false},
						":true":    &types.AttributeValueMemberBOOL{Value: true},
						":endedAt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", endedAt.UnixMilli())},
					},
				},
			},
			{
				Delete: &types.Delete{
					TableName:           aws.String(dynamoStore.tableName),
					Key:                 itemKey(projectKey(session.ProjectId), activeSessionSK),
					ConditionExpression: aws.String("SessionId = :sid"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":sid": &types.AttributeValueMemberS{Value: sessionId},
					},
				},
			},
		},
	})
	if err != nil {
		if isTransactionConditionFailed(err) {
			return store.ErrConditionFailed
		}
		return fmt.Errorf("deactivate session failed: %w", err)
	}
	return nil
}

// PutProject writes a project document. The collaboration server only reads projects; this
// exists for seeding local tables.
func (dynamoStore *DynamoArtStore) PutProject(ctx context.Context, project models.Project) error {
	if project.Id == "" {
		return errors.New("project id is empty")
	}
	avMap, err := attributevalue.MarshalMap(projectToDynamo(project))
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Item:      avMap,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}
