package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/ledger"
)

const dateLayout = "2006-01-02"

const (
	msgHelp = `مرحبا! أنا مساعد تسجيل المصروفات 💰

أرسل مصروفك بلغة عادية، مثلا:
• صرفت 150 بطاطس
• دفعت 500 فواتير كهرباء
• اشتريت ب200 ملابس
• 300 مواصلات

الأوامر:
/stats ملخص الشهر
/recent آخر المصروفات
/categories الفئات`

	msgGuidance = `❌ لم أتمكن من فهم المصروف.
جرب هذه الصيغة:
• صرفت 150 بطاطس
• دفعت 500 فواتير كهرباء
• 200 مواصلات`

	msgDuplicate      = "ℹ️ هذه الرسالة مسجلة مسبقا."
	msgAutoProcessOff = "📥 تم استلام الرسالة. المعالجة التلقائية متوقفة."
	msgInternalError  = "⚠️ حدث خطأ أثناء تسجيل المصروف. حاول مرة أخرى."
	msgUnknownCommand = "أمر غير معروف. أرسل /help لعرض الأوامر."
	msgNoExpenses     = "لا توجد مصروفات بعد."
	msgPersistFailed  = "⚠️ تم التسجيل لكن تعذر الحفظ."
)

func formatAmount(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func formatConfirmation(res ledger.Result, s api.Settings) string {
	e := res.Expense

	var b strings.Builder
	b.WriteString("✅ تم تسجيل المصروف\n")
	fmt.Fprintf(&b, "المبلغ: %s %s\n", formatAmount(e.Amount), s.Currency)
	fmt.Fprintf(&b, "الفئة: %s\n", e.Category)
	fmt.Fprintf(&b, "التاريخ: %s\n", e.Date.Format(dateLayout))
	if e.Notes != "" {
		fmt.Fprintf(&b, "ملاحظات: %s\n", e.Notes)
	}
	if res.CategoryAdded {
		fmt.Fprintf(&b, "🆕 فئة جديدة: %s\n", e.Category)
	}
	fmt.Fprintf(&b, "مجموع الشهر: %s %s", formatAmount(res.MonthTotal), s.Currency)
	if res.PersistErr != nil {
		b.WriteString("\n" + msgPersistFailed)
	}
	return b.String()
}

func formatValidation(err *ledger.ValidationError) string {
	switch err.Field {
	case "amount":
		return "❌ يجب أن يكون المبلغ أكبر من صفر."
	case "category":
		return "❌ يجب تحديد فئة المصروف."
	default:
		return "❌ " + err.Error()
	}
}

// formatBudgetWarning returns an empty string when spending is below the warning threshold.
func formatBudgetWarning(s ledger.Summary) string {
	switch s.Level {
	case ledger.LevelExceeded:
		return fmt.Sprintf("🚨 تنبيه: صرفت %s%% من ميزانية الشهر (%s من %s %s).",
			formatAmount(s.Percent), formatAmount(s.MonthTotal), formatAmount(s.Budget), s.Currency)
	case ledger.LevelWarning:
		return fmt.Sprintf("⚠️ اقتربت من حد الميزانية: %s%% مستهلك، المتبقي %s %s.",
			formatAmount(s.Percent), formatAmount(s.Remaining), s.Currency)
	default:
		return ""
	}
}

func formatSummary(s ledger.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 ملخص %04d-%02d\n", s.Year, int(s.Month))
	fmt.Fprintf(&b, "المجموع: %s %s\n", formatAmount(s.MonthTotal), s.Currency)
	fmt.Fprintf(&b, "عدد المصروفات: %d\n", s.MonthCount)
	fmt.Fprintf(&b, "المعدل اليومي: %s %s\n", formatAmount(s.DailyAverage), s.Currency)
	fmt.Fprintf(&b, "أعلى مصروف: %s %s\n", formatAmount(s.HighestExpense), s.Currency)
	fmt.Fprintf(&b, "الميزانية: %s %s (المتبقي %s)", formatAmount(s.Budget), s.Currency, formatAmount(s.Remaining))

	for _, ct := range s.Breakdown {
		fmt.Fprintf(&b, "\n• %s: %s (%s%%)", ct.Category, formatAmount(ct.Total), formatAmount(ct.Percent))
	}

	if warning := formatBudgetWarning(s); warning != "" {
		b.WriteString("\n\n" + warning)
	}
	return b.String()
}

func formatRecent(expenses []api.Expense, currency string) string {
	if len(expenses) == 0 {
		return msgNoExpenses
	}

	var b strings.Builder
	b.WriteString("🧾 آخر المصروفات:")
	for _, e := range expenses {
		fmt.Fprintf(&b, "\n• %s  %s %s  %s", e.Date.Format(dateLayout), formatAmount(e.Amount), currency, e.Category)
		if e.Notes != "" {
			fmt.Fprintf(&b, " (%s)", e.Notes)
		}
	}
	return b.String()
}

func formatCategories(categories []string) string {
	return "📂 الفئات:\n" + strings.Join(categories, "، ")
}
