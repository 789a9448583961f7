package lark

// Card is an interactive message card (schema 2.0), encoded as JSON content.
type Card map[string]any

// SubmitAction is the button value that identifies an overview submission.
const SubmitAction = "p0_submit"

// Form field names on the declaration card.
const (
	FieldIssue   = "issue_val"
	FieldImpact  = "impact_val"
	FieldSupport = "support_val"
)

func plainText(content string) map[string]any {
	return map[string]any{"tag": "plain_text", "content": content}
}

func label(content string) map[string]any {
	return map[string]any{"tag": "div", "text": plainText(content)}
}

func input(name, placeholder string) map[string]any {
	return map[string]any{"tag": "input", "name": name, "placeholder": plainText(placeholder)}
}

// DeclarationCard builds the P0 card: a JOIN NOW button opening link and the
// overview form (issue, impact, support) with a submit button.
func DeclarationCard(topic, link string) Card {
	return Card{
		"schema": "2.0",
		"config": map[string]any{"enable_forward": true},
		"header": map[string]any{
			"template": "red",
			"title":    plainText("🚨 P0 EMERGENCY — " + topic),
		},
		"body": map[string]any{
			"elements": []any{
				map[string]any{
					"tag":       "button",
					"text":      plainText("JOIN NOW"),
					"type":      "primary",
					"multi_url": map[string]any{"url": link, "pc_url": link},
				},
				map[string]any{"tag": "hr"},
				label("Overview Form"),
				map[string]any{
					"tag":  "form",
					"name": "p0_form",
					"elements": []any{
						label("🔥 Issue Description:"),
						input(FieldIssue, "Describe the issue"),
						label("🎯 Impact Scope:"),
						input(FieldImpact, "Who/what is affected"),
						label("👥 Support Request:"),
						input(FieldSupport, "Which team/support needed"),
						map[string]any{
							"tag":         "button",
							"text":        plainText("Submit Overview"),
							"type":        "primary",
							"action_type": "form_submit",
							"name":        "p0_submit_btn",
							"value":       map[string]any{"action": SubmitAction},
						},
					},
				},
			},
		},
	}
}

// ResultCard wraps a markdown summary in a single rich-text block.
func ResultCard(md string) Card {
	return Card{
		"schema": "2.0",
		"config": map[string]any{"enable_forward": true},
		"body": map[string]any{
			"elements": []any{
				map[string]any{"tag": "div", "text": map[string]any{"tag": "lark_md", "content": md}},
			},
		},
	}
}
