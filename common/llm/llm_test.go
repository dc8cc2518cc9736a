package llm_test

import (
	"refinery.app/engine/common/llm"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewChatClient", func() {
	It("requires an API key", func() {
		_, err := llm.NewChatClient(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(HaveOccurred())
	})

	It("defaults to the OpenAI provider when unset", func() {
		client, err := llm.NewChatClient(llm.Config{APIKey: "test-key"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Model()).To(Equal("gpt-4o-mini"))
	})

	It("builds an Anthropic client when requested", func() {
		client, err := llm.NewChatClient(llm.Config{
			Provider: llm.ProviderAnthropic,
			APIKey:   "test-key",
			Model:    "claude-sonnet-4-5-20250514",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Model()).To(Equal("claude-sonnet-4-5-20250514"))
	})

	It("rejects an unsupported provider", func() {
		_, err := llm.NewChatClient(llm.Config{Provider: "llama", APIKey: "test-key"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})
})

var _ = Describe("GenerateSchemaFrom", func() {
	type exampleDTO struct {
		Query string `json:"query"`
	}

	It("produces a non-nil schema for a struct value", func() {
		schema := llm.GenerateSchemaFrom(exampleDTO{})
		Expect(schema).NotTo(BeNil())
	})
})
