package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
)

// GraphEntity 抽取出的实体
type GraphEntity struct {
	Name string `json:"name"`
	Type string `json:"type"` // person | organization | location | concept
}

// GraphRelation 实体间的关系
type GraphRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// GraphFragment 一段文本的抽取结果
type GraphFragment struct {
	Entities  []GraphEntity   `json:"entities"`
	Relations []GraphRelation `json:"relations"`
}

// GraphExtractor 知识图谱抽取接口。抽取失败由上层降级为零计数
type GraphExtractor interface {
	Extract(ctx context.Context, text string) (*GraphFragment, error)
	Ready() bool
}

// NoopGraphExtractor 默认占位实现
type NoopGraphExtractor struct{}

func (n *NoopGraphExtractor) Extract(ctx context.Context, text string) (*GraphFragment, error) {
	return &GraphFragment{}, nil
}

func (n *NoopGraphExtractor) Ready() bool { return false }

// OpenAIGraphExtractor 用LLM做实体关系抽取
type OpenAIGraphExtractor struct {
	client *openai.Client
	model  string
}

const graphExtractionPrompt = `从下面的文本中抽取实体和关系，只返回JSON，格式：
{"entities":[{"name":"...","type":"person|organization|location|concept"}],"relations":[{"source":"...","target":"...","relation":"..."}]}
文本：
%s`

func NewOpenAIGraphExtractor(apiKey, baseURL, model string) *OpenAIGraphExtractor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGraphExtractor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (e *OpenAIGraphExtractor) Extract(ctx context.Context, text string) (*GraphFragment, error) {
	if strings.TrimSpace(text) == "" {
		return &GraphFragment{}, nil
	}

	// 过长文本截断，抽取只需要代表性片段
	runes := []rune(text)
	if len(runes) > 4000 {
		text = string(runes[:4000])
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(graphExtractionPrompt, text),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("graph extraction request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("graph extraction returned no choices")
	}

	content := resp.Choices[0].Message.Content
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var fragment GraphFragment
	if err := json.Unmarshal([]byte(content), &fragment); err != nil {
		return nil, fmt.Errorf("graph extraction response is not valid JSON: %w", err)
	}
	return &fragment, nil
}

func (e *OpenAIGraphExtractor) Ready() bool {
	return e.client != nil
}

// HeuristicGraphExtractor 无外部依赖的规则抽取，按大写开头词识别实体，
// 同句共现的实体之间建立co-occurrence关系。用于离线环境和测试
type HeuristicGraphExtractor struct {
	maxEntities int
}

func NewHeuristicGraphExtractor() *HeuristicGraphExtractor {
	return &HeuristicGraphExtractor{maxEntities: 50}
}

func (e *HeuristicGraphExtractor) Extract(ctx context.Context, text string) (*GraphFragment, error) {
	fragment := &GraphFragment{}
	if strings.TrimSpace(text) == "" {
		return fragment, nil
	}

	seen := make(map[string]struct{})
	edgeSeen := make(map[string]struct{})

	for _, sentence := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？' || r == '\n'
	}) {
		var sentenceEntities []string
		for _, word := range strings.Fields(sentence) {
			word = strings.Trim(word, ",;:()\"'")
			if len(word) < 3 {
				continue
			}
			runes := []rune(word)
			if !unicode.IsUpper(runes[0]) {
				continue
			}
			// 全大写的缩写词不算实体
			if strings.ToUpper(word) == word {
				continue
			}

			if _, ok := seen[word]; !ok {
				if len(fragment.Entities) >= e.maxEntities {
					continue
				}
				seen[word] = struct{}{}
				fragment.Entities = append(fragment.Entities, GraphEntity{Name: word, Type: "concept"})
			}
			sentenceEntities = append(sentenceEntities, word)
		}

		for i := 0; i+1 < len(sentenceEntities); i++ {
			source, target := sentenceEntities[i], sentenceEntities[i+1]
			if source == target {
				continue
			}
			key := source + "->" + target
			if _, ok := edgeSeen[key]; ok {
				continue
			}
			edgeSeen[key] = struct{}{}
			fragment.Relations = append(fragment.Relations, GraphRelation{
				Source:   source,
				Target:   target,
				Relation: "co-occurrence",
			})
		}
	}

	return fragment, nil
}

func (e *HeuristicGraphExtractor) Ready() bool { return true }
