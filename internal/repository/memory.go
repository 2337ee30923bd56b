package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aihub/usage-core/internal/models"
)

// MemoryStore 内存存储，实现全部仓库接口，用于测试与本地运行
// 所有读写共用一把锁；事务之间串行执行，失败时回滚到进入事务时的快照。
// 事务外的写操作同样等待 txMu，因此回滚只会撤销事务自身的写入
type MemoryStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	now  func() time.Time

	ids           map[string]uint
	conversations map[uint]models.Conversation
	messages      map[uint][]models.ConversationMessage
	templates     map[uint]models.PromptTemplate
	logs          []models.UsageLog
	services      map[uint]models.AIService
	aiModels      map[uint]models.AIModel
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		ids:           make(map[string]uint),
		conversations: make(map[uint]models.Conversation),
		messages:      make(map[uint][]models.ConversationMessage),
		templates:     make(map[uint]models.PromptTemplate),
		services:      make(map[uint]models.AIService),
		aiModels:      make(map[uint]models.AIModel),
	}
}

// SetClock 替换时钟
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Conversations 对话仓库视图
func (s *MemoryStore) Conversations() ConversationRepository { return memConversations{s} }

// Templates 模板仓库视图
func (s *MemoryStore) Templates() TemplateRepository { return memTemplates{s} }

// UsageLogs 用量日志仓库视图
func (s *MemoryStore) UsageLogs() UsageLogRepository { return memUsageLogs{s} }

// Models 模型注册表视图
func (s *MemoryStore) Models() ModelRegistry { return memModels{s} }

// AddService 注册服务商
func (s *MemoryStore) AddService(svc models.AIService) models.AIService {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == 0 {
		svc.ID = s.nextID("ai_services")
	}
	s.services[svc.ID] = svc
	return svc
}

// AddModel 注册模型
func (s *MemoryStore) AddModel(m models.AIModel) models.AIModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.nextID("ai_models")
	}
	m.Service = s.services[m.ServiceID]
	s.aiModels[m.ID] = m
	return m
}

func (s *MemoryStore) nextID(table string) uint {
	s.ids[table]++
	return s.ids[table]
}

type memTxKey struct{}

type memSnapshot struct {
	ids           map[string]uint
	conversations map[uint]models.Conversation
	messages      map[uint][]models.ConversationMessage
	templates     map[uint]models.PromptTemplate
	logs          []models.UsageLog
}

func (s *MemoryStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		ids:           make(map[string]uint, len(s.ids)),
		conversations: make(map[uint]models.Conversation, len(s.conversations)),
		messages:      make(map[uint][]models.ConversationMessage, len(s.messages)),
		templates:     make(map[uint]models.PromptTemplate, len(s.templates)),
		logs:          append([]models.UsageLog(nil), s.logs...),
	}
	for k, v := range s.ids {
		snap.ids[k] = v
	}
	for k, v := range s.conversations {
		snap.conversations[k] = v
	}
	for k, v := range s.messages {
		snap.messages[k] = append([]models.ConversationMessage(nil), v...)
	}
	for k, v := range s.templates {
		snap.templates[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = snap.ids
	s.conversations = snap.conversations
	s.messages = snap.messages
	s.templates = snap.templates
	s.logs = snap.logs
}

// lockWrite 写操作加锁，返回解锁函数；事务外的写先等待进行中的事务结束
func (s *MemoryStore) lockWrite(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// InTx 在事务中执行 fn，嵌套调用复用外层事务
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// ---- conversations ----

type memConversations struct{ s *MemoryStore }

func (r memConversations) Create(ctx context.Context, conv *models.Conversation) error {
	s := r.s
	defer s.lockWrite(ctx)()
	conv.ID = s.nextID("conversations")
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now()
	}
	conv.UpdatedAt = conv.CreatedAt
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = conv.CreatedAt
	}
	stored := *conv
	stored.Messages = nil
	s.conversations[conv.ID] = stored
	return nil
}

func (r memConversations) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &conv, nil
}

func (r memConversations) List(ctx context.Context, filter ConversationFilter) ([]models.Conversation, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]models.Conversation, 0)
	for _, conv := range s.conversations {
		if filter.UserID != nil && conv.UserID != *filter.UserID {
			continue
		}
		if filter.ModelID != nil && conv.ModelID != *filter.ModelID {
			continue
		}
		if filter.ContextType != nil && (conv.ContextType == nil || *conv.ContextType != *filter.ContextType) {
			continue
		}
		if filter.ContextID != nil && (conv.ContextID == nil || *conv.ContextID != *filter.ContextID) {
			continue
		}
		if filter.Archived != nil && conv.IsArchived != *filter.Archived {
			continue
		}
		matched = append(matched, conv)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastMessageAt.Equal(matched[j].LastMessageAt) {
			return matched[i].LastMessageAt.After(matched[j].LastMessageAt)
		}
		return matched[i].ID > matched[j].ID
	})

	offset, limit := normalizePage(filter.Page, filter.Limit)
	return paginate(matched, offset, limit), int64(len(matched)), nil
}

func (r memConversations) AppendMessage(ctx context.Context, msg *models.ConversationMessage) error {
	s := r.s
	defer s.lockWrite(ctx)()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if conv.IsArchived {
		return ErrArchived
	}

	now := msg.CreatedAt
	if now.IsZero() {
		now = s.now()
		msg.CreatedAt = now
	}
	conv.MessageCount++
	if now.After(conv.LastMessageAt) {
		conv.LastMessageAt = now
	}
	conv.UpdatedAt = now
	s.conversations[conv.ID] = conv

	msg.ID = s.nextID("conversation_messages")
	msg.Seq = conv.MessageCount
	s.messages[conv.ID] = append(s.messages[conv.ID], *msg)
	return nil
}

func (r memConversations) Messages(ctx context.Context, conversationID uint, offset, limit int) ([]models.ConversationMessage, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.messages[conversationID]
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = len(all)
	}
	return paginate(all, offset, limit), nil
}

func (r memConversations) update(ctx context.Context, id uint, fn func(conv *models.Conversation)) error {
	s := r.s
	defer s.lockWrite(ctx)()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	fn(&conv)
	conv.UpdatedAt = s.now()
	s.conversations[id] = conv
	return nil
}

func (r memConversations) SetArchived(ctx context.Context, id uint, archived bool) error {
	return r.update(ctx, id, func(conv *models.Conversation) { conv.IsArchived = archived })
}

func (r memConversations) UpdateTitle(ctx context.Context, id uint, title string) error {
	return r.update(ctx, id, func(conv *models.Conversation) { conv.Title = title })
}

func (r memConversations) AddUsage(ctx context.Context, id uint, tokens int64, cost float64) error {
	return r.update(ctx, id, func(conv *models.Conversation) {
		conv.TotalTokens += tokens
		conv.TotalCost += cost
	})
}

func (r memConversations) Delete(ctx context.Context, id uint) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// ---- templates ----

type memTemplates struct{ s *MemoryStore }

func (r memTemplates) Create(ctx context.Context, tpl *models.PromptTemplate) error {
	s := r.s
	defer s.lockWrite(ctx)()
	for _, existing := range s.templates {
		if existing.Slug == tpl.Slug {
			return fmt.Errorf("duplicate key value violates unique constraint \"idx_prompt_templates_slug\"")
		}
	}
	tpl.ID = s.nextID("prompt_templates")
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = s.now()
	}
	tpl.UpdatedAt = tpl.CreatedAt
	s.templates[tpl.ID] = *tpl
	return nil
}

func (r memTemplates) GetByID(ctx context.Context, id uint) (*models.PromptTemplate, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tpl, nil
}

func (r memTemplates) GetBySlug(ctx context.Context, slug string) (*models.PromptTemplate, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tpl := range s.templates {
		if tpl.Slug == slug {
			found := tpl
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r memTemplates) SlugExists(ctx context.Context, slug string, excludeID uint) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tpl := range s.templates {
		if tpl.Slug == slug && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r memTemplates) UpdateContent(ctx context.Context, tpl *models.PromptTemplate) error {
	s := r.s
	defer s.lockWrite(ctx)()
	current, ok := s.templates[tpl.ID]
	if !ok {
		return ErrNotFound
	}
	tpl.UpdatedAt = s.now()
	current.Name = tpl.Name
	current.Slug = tpl.Slug
	current.Category = tpl.Category
	current.Description = tpl.Description
	current.Template = tpl.Template
	current.Variables = tpl.Variables
	current.ExampleData = tpl.ExampleData
	current.IsPublic = tpl.IsPublic
	current.IsSystem = tpl.IsSystem
	current.Tags = tpl.Tags
	current.UpdatedAt = tpl.UpdatedAt
	s.templates[tpl.ID] = current
	return nil
}

func (r memTemplates) Delete(ctx context.Context, id uint) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.templates[id]; !ok {
		return ErrNotFound
	}
	for _, log := range s.logs {
		if log.TemplateID != nil && *log.TemplateID == id {
			return fmt.Errorf("violates foreign key constraint \"fk_usage_logs_template\"")
		}
	}
	delete(s.templates, id)
	return nil
}

func (r memTemplates) List(ctx context.Context, filter TemplateFilter) ([]models.PromptTemplate, int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]models.PromptTemplate, 0)
	for _, tpl := range s.templates {
		if !visible(tpl, filter) {
			continue
		}
		if filter.Category != "" && tpl.Category != filter.Category {
			continue
		}
		if filter.Tag != "" && !containsString(tpl.Tags, filter.Tag) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(tpl.Name), search) &&
			!strings.Contains(strings.ToLower(tpl.Description), search) {
			continue
		}
		matched = append(matched, tpl)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UsageCount != matched[j].UsageCount {
			return matched[i].UsageCount > matched[j].UsageCount
		}
		return matched[i].ID < matched[j].ID
	})

	offset, limit := normalizePage(filter.Page, filter.Limit)
	return paginate(matched, offset, limit), int64(len(matched)), nil
}

func visible(tpl models.PromptTemplate, filter TemplateFilter) bool {
	switch filter.Visibility {
	case VisibilityPublic:
		return tpl.IsPublic
	case VisibilityPrivate:
		return tpl.UserID == filter.ActorID && !tpl.IsPublic && !tpl.IsSystem
	case VisibilitySystem:
		return tpl.IsSystem
	case VisibilityMine:
		return tpl.UserID == filter.ActorID
	default:
		return tpl.IsPublic || tpl.IsSystem || tpl.UserID == filter.ActorID
	}
}

func (r memTemplates) IncrementUsage(ctx context.Context, id uint) error {
	s := r.s
	defer s.lockWrite(ctx)()
	tpl, ok := s.templates[id]
	if !ok {
		return ErrNotFound
	}
	tpl.UsageCount++
	s.templates[id] = tpl
	return nil
}

func (r memTemplates) AddRating(ctx context.Context, id uint, rating int) (*models.PromptTemplate, error) {
	s := r.s
	defer s.lockWrite(ctx)()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	tpl.RatingSum += int64(rating)
	tpl.RatingCount++
	tpl.AvgRating = float64(tpl.RatingSum) / float64(tpl.RatingCount)
	tpl.UpdatedAt = s.now()
	s.templates[id] = tpl
	return &tpl, nil
}

// ---- usage logs ----

type memUsageLogs struct{ s *MemoryStore }

func (r memUsageLogs) Create(ctx context.Context, log *models.UsageLog) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if log.TemplateID != nil {
		if _, ok := s.templates[*log.TemplateID]; !ok {
			return fmt.Errorf("violates foreign key constraint \"fk_usage_logs_template\"")
		}
	}
	log.ID = s.nextID("usage_logs")
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	s.logs = append(s.logs, *log)
	return nil
}

func (r memUsageLogs) filtered(filter UsageFilter) []models.UsageLog {
	s := r.s
	out := make([]models.UsageLog, 0)
	for _, log := range s.logs {
		if !filter.Since.IsZero() && log.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && !log.CreatedAt.Before(filter.Until) {
			continue
		}
		if filter.UserID != nil && log.UserID != *filter.UserID {
			continue
		}
		out = append(out, log)
	}
	return out
}

func (r memUsageLogs) Summary(ctx context.Context, filter UsageFilter) (UsageSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var summary UsageSummary
	var latency float64
	var samples int64
	for _, log := range r.filtered(filter) {
		summary.TotalRequests++
		if log.IsSuccess() {
			summary.SuccessfulRequests++
		}
		summary.TotalTokens += int64(log.TotalTokens)
		summary.TotalCost += log.Cost
		if log.ResponseTimeMs != nil {
			latency += float64(*log.ResponseTimeMs)
			samples++
		}
	}
	if samples > 0 {
		summary.AvgResponseTime = latency / float64(samples)
	}
	return summary, nil
}

func (r memUsageLogs) Daily(ctx context.Context, filter UsageFilter) ([]DailyBucket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	index := make(map[string]int)
	buckets := make([]DailyBucket, 0)
	latency := make(map[string][2]float64)
	for _, log := range r.filtered(filter) {
		day := log.CreatedAt.UTC().Format("2006-01-02")
		i, ok := index[day]
		if !ok {
			i = len(buckets)
			index[day] = i
			buckets = append(buckets, DailyBucket{Day: day})
		}
		buckets[i].Requests++
		buckets[i].Tokens += int64(log.TotalTokens)
		buckets[i].Cost += log.Cost
		if log.ResponseTimeMs != nil {
			acc := latency[day]
			latency[day] = [2]float64{acc[0] + float64(*log.ResponseTimeMs), acc[1] + 1}
		}
	}
	for i := range buckets {
		if acc := latency[buckets[i].Day]; acc[1] > 0 {
			buckets[i].AvgResponseTime = acc[0] / acc[1]
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Day < buckets[j].Day })
	return buckets, nil
}

func (r memUsageLogs) group(filter UsageFilter, key func(log models.UsageLog) string) []GroupBucket {
	index := make(map[string]int)
	buckets := make([]GroupBucket, 0)
	for _, log := range r.filtered(filter) {
		k := key(log)
		i, ok := index[k]
		if !ok {
			i = len(buckets)
			index[k] = i
			buckets = append(buckets, GroupBucket{Key: k})
		}
		buckets[i].Requests++
		buckets[i].Tokens += int64(log.TotalTokens)
		buckets[i].Cost += log.Cost
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Cost != buckets[j].Cost {
			return buckets[i].Cost > buckets[j].Cost
		}
		return buckets[i].Key < buckets[j].Key
	})
	return buckets
}

func (r memUsageLogs) GroupBy(ctx context.Context, filter UsageFilter, dim Dimension) ([]GroupBucket, error) {
	var key func(log models.UsageLog) string
	switch dim {
	case DimensionOperation:
		key = func(log models.UsageLog) string { return log.OperationType }
	case DimensionModel:
		key = func(log models.UsageLog) string { return strconv.FormatUint(uint64(log.ModelID), 10) }
	case DimensionContext:
		key = func(log models.UsageLog) string {
			if log.ContextType == nil {
				return "unknown"
			}
			return *log.ContextType
		}
	default:
		return nil, fmt.Errorf("unsupported dimension %q", dim)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.group(filter, key), nil
}

func (r memUsageLogs) CostByService(ctx context.Context, filter UsageFilter) ([]GroupBucket, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.group(filter, func(log models.UsageLog) string {
		model, ok := s.aiModels[log.ModelID]
		if !ok {
			return "unknown"
		}
		svc, ok := s.services[model.ServiceID]
		if !ok {
			return "unknown"
		}
		return svc.Name
	}), nil
}

func (r memUsageLogs) Performance(ctx context.Context, filter UsageFilter) (PerformanceRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var row PerformanceRow
	values := make([]float64, 0)
	for _, log := range r.filtered(filter) {
		if log.ResponseTimeMs == nil {
			continue
		}
		v := float64(*log.ResponseTimeMs)
		if len(values) == 0 || v < row.Min {
			row.Min = v
		}
		if v > row.Max {
			row.Max = v
		}
		values = append(values, v)
		row.Samples++
		if log.IsSuccess() {
			row.Successful++
		}
	}
	if len(values) == 0 {
		return PerformanceRow{}, nil
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	row.Avg = sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - row.Avg) * (v - row.Avg)
	}
	row.StdDev = math.Sqrt(variance / float64(len(values)))
	return row, nil
}

func (r memUsageLogs) Recent(ctx context.Context, filter UsageFilter, limit int) ([]models.UsageLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	logs := r.filtered(filter)
	sort.SliceStable(logs, func(i, j int) bool {
		if !logs[i].CreatedAt.Equal(logs[j].CreatedAt) {
			return logs[i].CreatedAt.After(logs[j].CreatedAt)
		}
		return logs[i].ID > logs[j].ID
	})
	return paginate(logs, 0, limit), nil
}

func (r memUsageLogs) CountByTemplate(ctx context.Context, templateID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, log := range r.s.logs {
		if log.TemplateID != nil && *log.TemplateID == templateID {
			count++
		}
	}
	return count, nil
}

// ---- models ----

type memModels struct{ s *MemoryStore }

func (r memModels) Pricing(ctx context.Context, modelID uint) (*ModelPricing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	model, ok := r.s.aiModels[modelID]
	if !ok {
		return nil, ErrNotFound
	}
	return pricingOf(&model), nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return make([]T, 0)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
