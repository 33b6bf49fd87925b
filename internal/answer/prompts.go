package answer

import (
	"fmt"
	"strings"
)

// NotSpecifiedResponse is the fixed reply for facts missing from the
// context.
const NotSpecifiedResponse = "문서에 명시된 정보가 없습니다."

const (
	answerSystem  = "당신은 카드별 정보 기반 응답을 정확하게 생성하는 전문가입니다. 주어진 문서 내용만을 근거로 답변하세요."
	rewriteSystem = "당신은 금융 정보를 쉽게 설명해주는 AI입니다."
)

const answerTemplate = `당신은 신용카드 및 체크카드 정보를 바탕으로 사용자 질문에 대해 **문서 기반으로 구체적이고 정확한 답변을 제공하는 AI 전문가**입니다.

카드 이름: %s

아래는 해당 카드의 약관 및 상품설명서에서 추출된 일부 문서 내용입니다:

[문서 내용]
%s

[사용자 질문]
%s

[응답 조건]
1. 반드시 **사용자의 질문에 맞게 위 문서 내용에 기반**하여 답변하고, 가능한 한 **구체적이고 풍부한 설명**을 제공하세요.
2. 사용자의 질문에 답변할 때 **정확한 수치, 시기, 조건, 문구**를 반영하세요.
   (예: "월 최대 2회", "국내전용 9,000원", "전월 30만원 이상 이용 시 적용")
3. **카드 약관의 주의사항이나 확인사항** (예: 전월 실적 제외 조건, 소비자 권리, 연체 시 불이익 등)도 문맥에 따라 포함해 주세요.
4. 사용자의 질문이 여러 항목을 포함할 경우, 각 항목별로 **체계적으로 구성하여 답변**하세요.
5. 문서에 명시되지 않은 내용은 "%s"라고 답변하고, **절대 거짓 정보를 지어내서는 안됩니다.**`

const rewriteTemplate = `당신은 신용카드나 체크카드 정보를 사용자가 **정확하고 쉽게 이해할 수 있도록 재작성**해주는 AI입니다.

아래 문장을 다음 기준에 따라 **친절하게 다시 설명**해주세요:

1. **전문 용어**(예: 리볼빙, 위법계약해지권 등)는 간단한 예시나 쉬운 말로 풀어서 설명하세요.
2. **문장이 길고 복잡한 경우**, **핵심을 유지**하면서 문장을 분리해 **명확하게 정리**하세요.
3. **필수 정보**(예: 금액, 조건, 책임, 유의사항 등)는 **절대 빠뜨리지 말고 반영**하세요.
4. 요약하거나, 말을 지어내거나, 법적 표현을 삭제하지 말고 **문맥 그대로 쉽게 풀어** 쓰세요.
5. 전체적으로 **고객 상담원이 친절하게 설명해주는 말투**로 바꾸세요.

[원문]
%s

[쉬운 설명]`

// BuildPrompt renders the grounded answer prompt. Context fragments are
// numbered in the order given.
func BuildPrompt(entityName, question string, context []string) string {
	var b strings.Builder
	for i, c := range context {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "(%d) %s", i+1, strings.TrimSpace(c))
	}
	return fmt.Sprintf(answerTemplate, entityName, b.String(), question, NotSpecifiedResponse)
}

// BuildRewritePrompt renders the plain-language rewrite prompt.
func BuildRewritePrompt(raw string) string {
	return fmt.Sprintf(rewriteTemplate, raw)
}
