package knowledge

import (
	"strings"
	"unicode"
)

// 关键词打分里忽略的常见虚词
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "this": {},
	"that": {}, "with": {}, "from": {}, "they": {}, "will": {}, "what": {},
	"when": {}, "which": {}, "their": {}, "there": {}, "been": {}, "were": {},
	"into": {}, "than": {}, "then": {}, "them": {}, "these": {}, "those": {},
	"some": {}, "such": {}, "only": {}, "over": {}, "also": {}, "about": {},
	"after": {}, "before": {}, "where": {}, "while": {}, "would": {}, "could": {},
	"should": {}, "does": {}, "doing": {}, "other": {}, "more": {}, "most": {},
	"very": {}, "each": {}, "between": {}, "both": {}, "under": {}, "because": {},
}

// TokenizeQuery 把文本切成小写词条，丢弃长度小于3的词和停用词
func TokenizeQuery(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) <= 2 {
			continue
		}
		if _, skip := stopwords[field]; skip {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

func distinctTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// KeywordScore 计算分块对查询词条的关键词相关度。
// 词频占70%，查询词覆盖率占30%，结果落在[0,1]区间。
func KeywordScore(content string, queryTokens []string) float64 {
	queryTokens = distinctTokens(queryTokens)
	if len(queryTokens) == 0 {
		return 0
	}

	chunkTokens := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(chunkTokens) == 0 {
		return 0
	}

	querySet := make(map[string]struct{}, len(queryTokens))
	for _, token := range queryTokens {
		querySet[token] = struct{}{}
	}

	matchedOccurrences := 0
	matchedDistinct := make(map[string]struct{})
	for _, token := range chunkTokens {
		if _, ok := querySet[token]; ok {
			matchedOccurrences++
			matchedDistinct[token] = struct{}{}
		}
	}
	if matchedOccurrences == 0 {
		return 0
	}

	frequency := float64(matchedOccurrences) / float64(len(chunkTokens))
	coverage := float64(len(matchedDistinct)) / float64(len(queryTokens))
	score := 0.7*frequency + 0.3*coverage
	if score > 1 {
		score = 1
	}
	return score
}
