package llm

import (
	"fmt"
	"strings"
	"time"
)

// SystemPrompt is the CareMate persona prepended to every chat prompt.
const SystemPrompt = `你是一个关怀型的智能助手，名字叫CareMate。你的角色是：
1. 像朋友一样倾听用户的感受和想法
2. 给予温暖、鼓励和支持的话语
3. 帮助用户缓解孤独感和情绪困扰
4. 提供积极的生活建议和动力

重要约束：
- 你只能提供情感支持和一般性建议
- 不得提供医疗诊断、法律建议或专业治疗建议
- 如果用户提到自伤、自杀等严重情况，应温和地建议他们联系专业机构
- 使用温暖、同理心的语言，避免冷漠或机械化的回复
- 保持积极正面的态度，但也要理解用户的真实感受

请用自然、温暖的方式与用户对话。`

const antiHallucination = "重要：如果你不确定用户以前是否提到过某件事，必须明确说明不确定，" +
	"不要编造过去的对话内容；可以基于下方“长期记忆摘要”与当前消息进行回应。"

var roleNames = map[string]string{
	"user":      "用户",
	"assistant": "助手",
}

// ChatPrompt builds the conversational prompt: persona, preference hints,
// optional long-term memory digest, the last 10 turns, and the current
// user message.
func ChatPrompt(userMessage string, history []Turn, preferences map[string]any) string {
	var parts []string
	parts = append(parts, SystemPrompt)

	if preferences != nil {
		tone, _ := preferences["tone"].(string)
		if tone == "" {
			tone = "温柔"
		}
		parts = append(parts, fmt.Sprintf("\n用户偏好语气：%s", tone))

		if goals, ok := preferences["goals"].([]any); ok && len(goals) > 0 {
			strs := make([]string, 0, len(goals))
			for _, g := range goals {
				strs = append(strs, fmt.Sprint(g))
			}
			parts = append(parts, fmt.Sprintf("\n用户当前目标：%s", strings.Join(strs, ", ")))
		}
	}

	if memory, ok := preferences["long_term_memory"].(string); ok && strings.TrimSpace(memory) != "" {
		parts = append(parts, "\n"+antiHallucination)
		userMessage = fmt.Sprintf("【用户长期记忆摘要（可能不完整）】\n%s\n\n【当前用户消息】\n%s",
			strings.TrimSpace(memory), userMessage)
	}

	if len(history) > 0 {
		parts = append(parts, "\n\n对话历史：")
		start := 0
		if len(history) > 10 {
			start = len(history) - 10
		}
		for _, turn := range history[start:] {
			name, ok := roleNames[turn.Role]
			if !ok {
				name = turn.Role
			}
			parts = append(parts, fmt.Sprintf("%s：%s", name, turn.Content))
		}
	}

	parts = append(parts, fmt.Sprintf("\n\n用户：%s", userMessage))
	parts = append(parts, "\n助手：")

	return strings.Join(parts, "\n")
}

// SummaryPrompt builds the windowed-digest prompt from the last 20 user
// messages in the window.
func SummaryPrompt(messages []Turn, windowStart, windowEnd time.Time) string {
	var userMessages []string
	for _, m := range messages {
		if m.Role == "user" {
			userMessages = append(userMessages, m.Content)
		}
	}
	if len(userMessages) > 20 {
		userMessages = userMessages[len(userMessages)-20:]
	}

	var lines []string
	for _, m := range userMessages {
		lines = append(lines, "- "+m)
	}

	dateRange := fmt.Sprintf("%s 至 %s",
		windowStart.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

	return fmt.Sprintf(`请基于以下时间范围（%s）内用户的对话内容，生成一份关怀型摘要。

用户对话内容：
%s

请生成包含以下部分的摘要（用中文）：
1. 行为/成就总结（2-3句话）：总结用户这段时间的主要活动、提到的目标或取得的进展
2. 情绪观察（1-2句话）：简要描述用户这段时间的情绪状态和变化
3. 当日建议（1-2条）：基于用户的情况，给出1-2条具体可执行的建议
4. 鼓励话语（1段）：写一段温暖、鼓励的话语

格式要求：
- 语言温暖、积极
- 建议要具体、可执行
- 总长度控制在200字以内

摘要：`, dateRange, strings.Join(lines, "\n"))
}

// Greetings maps a time-of-day bucket to its greeting word.
var Greetings = map[string]string{
	"morning": "早安",
	"noon":    "中午好",
	"evening": "晚上好",
}

// Greeting returns the greeting word for a bucket, "你好" for unknown.
func Greeting(timeOfDay string) string {
	if g, ok := Greetings[timeOfDay]; ok {
		return g
	}
	return "你好"
}

// CareMessagePrompt builds the care-message prompt, either filling a
// template or composing a greeting-prefixed message from the summary.
func CareMessagePrompt(summary, templateContent, timeOfDay string) string {
	if templateContent != "" {
		return fmt.Sprintf(`基于以下摘要，使用提供的模板生成一条关怀消息。

摘要内容：
%s

模板：
%s

请将摘要中的信息自然地填充到模板中，生成一条完整、温暖的消息。`, summary, templateContent)
	}

	greeting := Greeting(timeOfDay)
	return fmt.Sprintf(`基于以下摘要，生成一条%s关怀消息。

摘要内容：
%s

要求：
- 以"%s"开头
- 包含摘要中的关键信息
- 语言温暖、鼓励
- 长度控制在100-150字
- 给出1-2条具体建议

消息：`, greeting, summary, greeting)
}
