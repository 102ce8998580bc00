package config

import "testing"

func TestLoadIncludesFusionDefaults(t *testing.T) {
	t.Setenv("SEARCH_CANDIDATE_LIMIT", "")
	t.Setenv("SEARCH_RRF_K", "")
	t.Setenv("SEARCH_LEMMA_TOP_N", "")
	t.Setenv("RERANK_TOP_K", "")

	cfg := Load()
	if cfg.SearchCandidateLimit != 30 {
		t.Fatalf("expected default candidate limit 30, got %d", cfg.SearchCandidateLimit)
	}
	if cfg.SearchRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.SearchRRFK)
	}
	if cfg.SearchLemmaTopN != 5 {
		t.Fatalf("expected default lemma top n 5, got %d", cfg.SearchLemmaTopN)
	}
	if cfg.RerankTopK != 30 {
		t.Fatalf("expected default rerank top k 30, got %d", cfg.RerankTopK)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("SEARCH_RRF_K", "75")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("BREAKER_FAILURE_RATIO", "0.8")
	t.Setenv("REDIS_ADDRS", "redis-a:6379, redis-b:6379")
	t.Setenv("EMBEDDING_ENABLED", "false")

	cfg := Load()
	if cfg.SearchRRFK != 75 {
		t.Fatalf("expected rrf k 75, got %d", cfg.SearchRRFK)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.BreakerFailureRatio != 0.8 {
		t.Fatalf("expected failure ratio 0.8, got %v", cfg.BreakerFailureRatio)
	}
	if len(cfg.RedisAddrs) != 2 || cfg.RedisAddrs[1] != "redis-b:6379" {
		t.Fatalf("expected two trimmed redis addrs, got %v", cfg.RedisAddrs)
	}
	if cfg.EmbeddingEnabled {
		t.Fatalf("expected embedding disabled")
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("SEARCH_RRF_K", "not-a-number")
	t.Setenv("LLM_RATE_LIMIT_RPS", "fast")

	cfg := Load()
	if cfg.SearchRRFK != 60 {
		t.Fatalf("expected fallback rrf k 60, got %d", cfg.SearchRRFK)
	}
	if cfg.LLMRateLimitRPS != 5 {
		t.Fatalf("expected fallback rate 5, got %v", cfg.LLMRateLimitRPS)
	}
}
