package vectordb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace 可读ID映射为UUIDv5时使用的命名空间
var pointNamespace = uuid.MustParse("6f0b3c9e-2d4a-5b8e-9c1f-7a3e5d2b8c40")

// defaultQdrantPort gRPC端口
const defaultQdrantPort = 6334

// qdrantAPI 仓库用到的客户端方法，*qdrant.Client实现了该接口
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// QdrantRepository 基于Qdrant的向量仓库
// 每个点包含dense、sparse、colbert三个命名向量
type QdrantRepository struct {
	client     qdrantAPI
	collection string
	dimension  int
	distance   DistanceType
	ensure     bool
	timeout    time.Duration

	mu      sync.Mutex
	ensured bool
}

// NewQdrantRepository 创建Qdrant仓库
func NewQdrantRepository(config Config) (Repository, error) {
	if config.Collection == "" {
		return nil, errors.New("qdrant collection name is required")
	}

	qcfg, err := parseQdrantURL(config.URL)
	if err != nil {
		return nil, err
	}
	qcfg.APIKey = config.APIKey

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return newQdrantRepository(client, config), nil
}

func newQdrantRepository(client qdrantAPI, config Config) *QdrantRepository {
	distance := config.DistanceType
	if distance == "" {
		distance = Cosine
	}
	return &QdrantRepository{
		client:     client,
		collection: config.Collection,
		dimension:  config.Dimension,
		distance:   distance,
		ensure:     config.EnsureCollection,
		timeout:    config.Timeout,
	}
}

// parseQdrantURL 解析 http(s)://host:port，https启用TLS
func parseQdrantURL(raw string) (*qdrant.Config, error) {
	if raw == "" {
		raw = "http://localhost:6334"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid qdrant url %q", raw)
	}

	port := defaultQdrantPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port %q", p)
		}
	}

	return &qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		UseTLS: u.Scheme == "https",
	}, nil
}

// PointUUID 把可读ID映射为Qdrant可接受的UUID
func PointUUID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

// Upsert 整批写入并等待存储确认
func (r *QdrantRepository) Upsert(ctx context.Context, points []Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if err := ValidatePoint(p, r.dimension); err != nil {
			return 0, &StorageError{Op: "upsert", Err: err}
		}
		ps, err := toPointStruct(p)
		if err != nil {
			return 0, &StorageError{Op: "upsert", Err: err}
		}
		structs = append(structs, ps)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.ensureCollection(ctx, points[0]); err != nil {
		return 0, &StorageError{Op: "ensure collection", Err: err}
	}

	res, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return 0, &StorageError{Op: "upsert", Err: err}
	}
	if err := checkUpdate(res); err != nil {
		return 0, &StorageError{Op: "upsert", Err: err}
	}
	return len(points), nil
}

// Delete 按可读ID删除
func (r *QdrantRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(PointUUID(id)))
	}
	return r.delete(ctx, "delete", qdrant.NewPointsSelector(pointIDs...))
}

// DeleteByFileID 按载荷中的file_id删除
func (r *QdrantRepository) DeleteByFileID(ctx context.Context, fileID string) error {
	selector := qdrant.NewPointsSelectorFilter(&qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(PayloadFileID, fileID)},
	})
	return r.delete(ctx, "delete by file id", selector)
}

func (r *QdrantRepository) delete(ctx context.Context, op string, selector *qdrant.PointsSelector) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         selector,
	})
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}
	if err := checkUpdate(res); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

// Count 精确统计集合中的点数
func (r *QdrantRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: r.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return int(n), nil
}

// Close 关闭gRPC连接
func (r *QdrantRepository) Close() error {
	return r.client.Close()
}

// ensureCollection 首次写入时按第一个点的向量维度创建集合
func (r *QdrantRepository) ensureCollection(ctx context.Context, sample Point) error {
	if !r.ensure {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensured {
		return nil
	}

	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return err
	}
	if !exists {
		err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: r.collection,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				VectorDense: {
					Size:     uint64(len(sample.Vectors.Dense)),
					Distance: qdrantDistance(r.distance),
				},
				VectorColBERT: {
					Size:     uint64(len(sample.Vectors.ColBERT[0])),
					Distance: qdrant.Distance_Cosine,
					MultivectorConfig: &qdrant.MultiVectorConfig{
						Comparator: qdrant.MultiVectorComparator_MaxSim,
					},
				},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				VectorSparse: {},
			}),
		})
		if err != nil {
			return err
		}
	}
	r.ensured = true
	return nil
}

func (r *QdrantRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, func() {}
}

// toPointStruct 转换为Qdrant点，可读ID写入point_id载荷
func toPointStruct(p Point) (*qdrant.PointStruct, error) {
	payload := make(map[string]any, len(p.Payload)+1)
	for k, v := range p.Payload {
		payload[k] = v
	}
	payload[PayloadPointID] = p.ID

	values, err := qdrant.TryValueMap(payload)
	if err != nil {
		return nil, fmt.Errorf("point %s payload: %w", p.ID, err)
	}

	return &qdrant.PointStruct{
		Id: qdrant.NewID(PointUUID(p.ID)),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			VectorDense:   qdrant.NewVectorDense(p.Vectors.Dense),
			VectorSparse:  qdrant.NewVectorSparse(p.Vectors.Sparse.Indices, p.Vectors.Sparse.Values),
			VectorColBERT: qdrant.NewVectorMulti(p.Vectors.ColBERT),
		}),
		Payload: values,
	}, nil
}

func checkUpdate(res *qdrant.UpdateResult) error {
	if res == nil {
		return nil
	}
	if res.GetStatus() != qdrant.UpdateStatus_Completed {
		return fmt.Errorf("update not completed: %s", res.GetStatus())
	}
	return nil
}

func qdrantDistance(d DistanceType) qdrant.Distance {
	switch d {
	case DotProduct:
		return qdrant.Distance_Dot
	case Euclidean:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func init() {
	RegisterRepository("qdrant", NewQdrantRepository)
}
